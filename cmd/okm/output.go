package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"okm-go/internal/config"
	"okm-go/internal/impexp"
	"okm-go/internal/okm"
)

var (
	labelStyle = lipgloss.NewStyle().Bold(true)
	okStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("2")).Bold(true)
	failStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("1")).Bold(true)
	boxStyle   = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			Padding(0, 1)
)

// printSummary writes the totals of a walk to stderr so stdout keeps only
// progress lines.
func printSummary(action string, stats impexp.ImpExpStats, elapsed time.Duration) {
	result := okStyle.Render("OK")
	if !stats.OK {
		result = failStyle.Render("ERRORS")
	}

	rows := []string{
		fmt.Sprintf("%s %s", labelStyle.Render(action), result),
		fmt.Sprintf("%-10s %s", "Documents", humanize.Comma(int64(stats.Documents))),
		fmt.Sprintf("%-10s %s", "Folders", humanize.Comma(int64(stats.Folders))),
		fmt.Sprintf("%-10s %s", "Mails", humanize.Comma(int64(stats.Mails))),
		fmt.Sprintf("%-10s %s", "Size", humanize.IBytes(uint64(max(stats.Size, 0)))),
		fmt.Sprintf("%-10s %s", "Time", elapsed.Truncate(time.Millisecond)),
	}
	fmt.Fprintln(os.Stderr, boxStyle.Render(strings.Join(rows, "\n")))
}

func printOperation(op *okm.Operation) {
	duration := ""
	if op.FinishedAt != nil {
		duration = op.FinishedAt.Sub(op.StartedAt).Truncate(time.Millisecond).String()
	}

	status := op.Status
	switch status {
	case "success":
		status = okStyle.Render(fmt.Sprintf("%-8s", status))
	case "":
		status = fmt.Sprintf("%-8s", "running")
	default:
		status = failStyle.Render(fmt.Sprintf("%-8s", status))
	}

	fmt.Printf("#%d  %-8s  %s  %s  %-10s  %s\n",
		op.ID,
		op.Operation,
		op.StartedAt.Local().Format("2006-01-02 15:04:05"),
		status,
		duration,
		op.Parameters,
	)
}

func printConfig(cfg *config.Config) {
	row := func(label, value string) {
		fmt.Printf("%s %s\n", labelStyle.Render(fmt.Sprintf("%-12s", label)), value)
	}

	row("Instance ID", cfg.InstanceID)
	row("Base Dir", cfg.BaseDir)
	row("Log Dir", cfg.LogDir)
	row("Repository", fmt.Sprintf("%s %s", cfg.Repository.Type, cfg.Repository.DataDir))
	for _, v := range cfg.Vaults {
		switch v.Type {
		case "s3":
			row("Vault", fmt.Sprintf("%s s3://%s/%s", v.Name, v.S3Bucket, v.S3Prefix))
		case "filesystem":
			row("Vault", fmt.Sprintf("%s %s", v.Name, v.FSVaultRoot))
		default:
			row("Vault", fmt.Sprintf("%s %s", v.Name, v.Type))
		}
	}
	row("Encryption", cfg.Encryption.Type)
	row("User", fmt.Sprintf("%s %v", cfg.Security.DefaultUser, cfg.Security.DefaultRoles))

	limit := "unlimited"
	if cfg.Upload.MaxFileSize > 0 {
		limit = humanize.IBytes(uint64(cfg.Upload.MaxFileSize))
	}
	quota := "unlimited"
	if cfg.Upload.UserQuota > 0 {
		quota = humanize.IBytes(uint64(cfg.Upload.UserQuota))
	}
	row("Upload", fmt.Sprintf("max %s, quota %s, antivirus %t", limit, quota, cfg.Upload.Antivirus))
}
