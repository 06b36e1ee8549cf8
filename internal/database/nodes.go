package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	sq "github.com/Masterminds/squirrel"

	"okm-go/internal/okm"
)

const (
	principalUser = "user"
	principalRole = "role"
)

var nodeColumns = []string{"uuid", "parent_uuid", "path", "name", "node_type", "author", "created_at"}

// nodeRow is a nodes row with its attributes loaded.
type nodeRow struct {
	okm.Node
	parentUUID string
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanNode(r rowScanner) (*nodeRow, error) {
	var n nodeRow
	var parent sql.NullString
	var typ string
	if err := r.Scan(&n.UUID, &parent, &n.Path, &n.Name, &typ, &n.Author, &n.Created); err != nil {
		return nil, err
	}
	n.parentUUID = parent.String
	n.Type = okm.NodeType(typ)
	return &n, nil
}

// findNode loads the node at path with all of its attributes.
func (s *SQLiteDatabase) findNode(ctx context.Context, q querier, path string) (*nodeRow, error) {
	clean, err := okm.CleanPath(path)
	if err != nil {
		return nil, err
	}
	return s.findNodeBy(ctx, q, sq.Eq{"path": clean}, clean)
}

func (s *SQLiteDatabase) findNodeByUUID(ctx context.Context, q querier, uuid string) (*nodeRow, error) {
	return s.findNodeBy(ctx, q, sq.Eq{"uuid": uuid}, uuid)
}

func (s *SQLiteDatabase) findNodeBy(ctx context.Context, q querier, where sq.Eq, what string) (*nodeRow, error) {
	row, err := queryRow(ctx, q, qb().Select(nodeColumns...).From("nodes").Where(where))
	if err != nil {
		return nil, err
	}
	n, err := scanNode(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", what, okm.ErrPathNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("loading node %s: %w", what, dbError(err))
	}
	if err := loadAttributes(ctx, q, &n.Node); err != nil {
		return nil, fmt.Errorf("loading attributes of %s: %w", what, err)
	}
	return n, nil
}

// listChildren returns the direct children of parentUUID sorted by name.
func (s *SQLiteDatabase) listChildren(ctx context.Context, q querier, parentUUID string) ([]*nodeRow, error) {
	var children []*nodeRow
	err := queryAll(ctx, q,
		qb().Select(nodeColumns...).From("nodes").Where(sq.Eq{"parent_uuid": parentUUID}).OrderBy("name"),
		func(rows *sql.Rows) error {
			n, err := scanNode(rows)
			if err != nil {
				return err
			}
			children = append(children, n)
			return nil
		})
	if err != nil {
		return nil, fmt.Errorf("listing children: %w", err)
	}
	for _, c := range children {
		if err := loadAttributes(ctx, q, &c.Node); err != nil {
			return nil, fmt.Errorf("loading attributes of %s: %w", c.Path, err)
		}
	}
	return children, nil
}

func loadAttributes(ctx context.Context, q querier, n *okm.Node) error {
	n.UserPermissions = okm.Grants{}
	n.RolePermissions = okm.Grants{}
	err := queryAll(ctx, q,
		qb().Select("principal_kind", "principal", "permission").From("node_permissions").Where(sq.Eq{"node_uuid": n.UUID}),
		func(rows *sql.Rows) error {
			var kind, principal string
			var perm int
			if err := rows.Scan(&kind, &principal, &perm); err != nil {
				return err
			}
			if kind == principalUser {
				n.UserPermissions[principal] = okm.Permission(perm)
			} else {
				n.RolePermissions[principal] = okm.Permission(perm)
			}
			return nil
		})
	if err != nil {
		return err
	}

	if n.Keywords, err = loadStrings(ctx, q, "node_keywords", "keyword", n.UUID); err != nil {
		return err
	}
	if n.Categories, err = loadStrings(ctx, q, "node_categories", "category", n.UUID); err != nil {
		return err
	}
	if n.Subscriptors, err = loadStrings(ctx, q, "node_subscriptors", "user_id", n.UUID); err != nil {
		return err
	}

	n.Notes = nil
	err = queryAll(ctx, q,
		qb().Select("author", "created_at", "text").From("node_notes").Where(sq.Eq{"node_uuid": n.UUID}).OrderBy("id"),
		func(rows *sql.Rows) error {
			var note okm.Note
			if err := rows.Scan(&note.Author, &note.Date, &note.Text); err != nil {
				return err
			}
			n.Notes = append(n.Notes, note)
			return nil
		})
	if err != nil {
		return err
	}

	return loadPropertyGroups(ctx, q, n)
}

func loadStrings(ctx context.Context, q querier, table, column, uuid string) ([]string, error) {
	var out []string
	err := queryAll(ctx, q,
		qb().Select(column).From(table).Where(sq.Eq{"node_uuid": uuid}).OrderBy(column),
		func(rows *sql.Rows) error {
			var v string
			if err := rows.Scan(&v); err != nil {
				return err
			}
			out = append(out, v)
			return nil
		})
	return out, err
}

func loadPropertyGroups(ctx context.Context, q querier, n *okm.Node) error {
	n.PropertyGroups = nil
	index := make(map[string]int)
	err := queryAll(ctx, q,
		qb().Select("group_name").From("node_property_groups").Where(sq.Eq{"node_uuid": n.UUID}).OrderBy("position"),
		func(rows *sql.Rows) error {
			var name string
			if err := rows.Scan(&name); err != nil {
				return err
			}
			index[name] = len(n.PropertyGroups)
			n.PropertyGroups = append(n.PropertyGroups, okm.PropertyGroup{Name: name, Properties: map[string]string{}})
			return nil
		})
	if err != nil {
		return err
	}

	return queryAll(ctx, q,
		qb().Select("group_name", "name", "value").From("node_properties").Where(sq.Eq{"node_uuid": n.UUID}),
		func(rows *sql.Rows) error {
			var group, name, value string
			if err := rows.Scan(&group, &name, &value); err != nil {
				return err
			}
			if i, ok := index[group]; ok {
				n.PropertyGroups[i].Properties[name] = value
			}
			return nil
		})
}

// insertNode writes the nodes row and every attribute side table.
func insertNode(ctx context.Context, q querier, n *okm.Node, parentUUID string) error {
	parent := sql.NullString{String: parentUUID, Valid: parentUUID != ""}
	_, err := exec(ctx, q, qb().Insert("nodes").
		Columns(nodeColumns...).
		Values(n.UUID, parent, n.Path, n.Name, string(n.Type), n.Author, n.Created))
	if err != nil {
		return fmt.Errorf("inserting node %s: %w", n.Path, err)
	}

	if err := insertGrants(ctx, q, n.UUID, principalUser, n.UserPermissions); err != nil {
		return err
	}
	if err := insertGrants(ctx, q, n.UUID, principalRole, n.RolePermissions); err != nil {
		return err
	}
	if err := insertStrings(ctx, q, "node_keywords", "keyword", n.UUID, n.Keywords); err != nil {
		return err
	}
	if err := insertStrings(ctx, q, "node_categories", "category", n.UUID, n.Categories); err != nil {
		return err
	}
	if err := insertStrings(ctx, q, "node_subscriptors", "user_id", n.UUID, n.Subscriptors); err != nil {
		return err
	}

	for _, note := range n.Notes {
		date := note.Date
		if date.IsZero() {
			date = n.Created
		}
		author := note.Author
		if author == "" {
			author = n.Author
		}
		_, err := exec(ctx, q, qb().Insert("node_notes").
			Columns("node_uuid", "author", "created_at", "text").
			Values(n.UUID, author, date, note.Text))
		if err != nil {
			return fmt.Errorf("inserting note: %w", err)
		}
	}

	for i, pg := range n.PropertyGroups {
		_, err := exec(ctx, q, qb().Insert("node_property_groups").
			Columns("node_uuid", "group_name", "position").
			Values(n.UUID, pg.Name, i))
		if err != nil {
			return fmt.Errorf("inserting property group %s: %w", pg.Name, err)
		}
		names := make([]string, 0, len(pg.Properties))
		for name := range pg.Properties {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			_, err := exec(ctx, q, qb().Insert("node_properties").
				Columns("node_uuid", "group_name", "name", "value").
				Values(n.UUID, pg.Name, name, pg.Properties[name]))
			if err != nil {
				return fmt.Errorf("inserting property %s.%s: %w", pg.Name, name, err)
			}
		}
	}
	return nil
}

func insertGrants(ctx context.Context, q querier, uuid, kind string, grants okm.Grants) error {
	for _, principal := range grants.Principals() {
		_, err := exec(ctx, q, qb().Insert("node_permissions").
			Columns("node_uuid", "principal_kind", "principal", "permission").
			Values(uuid, kind, principal, int(grants[principal])))
		if err != nil {
			return fmt.Errorf("granting %s %s: %w", kind, principal, err)
		}
	}
	return nil
}

func insertStrings(ctx context.Context, q querier, table, column, uuid string, values []string) error {
	seen := make(map[string]bool, len(values))
	for _, v := range values {
		if seen[v] {
			continue
		}
		seen[v] = true
		if _, err := exec(ctx, q, qb().Insert(table).Columns("node_uuid", column).Values(uuid, v)); err != nil {
			return fmt.Errorf("inserting into %s: %w", table, err)
		}
	}
	return nil
}

// nodeExists reports whether a node with the given path or UUID is stored.
func nodeExists(ctx context.Context, q querier, path, uuid string) (bool, error) {
	cond := sq.Or{sq.Eq{"path": path}}
	if uuid != "" {
		cond = append(cond, sq.Eq{"uuid": uuid})
	}
	row, err := queryRow(ctx, q, qb().Select("COUNT(*)").From("nodes").Where(cond))
	if err != nil {
		return false, err
	}
	var n int
	if err := row.Scan(&n); err != nil {
		return false, dbError(err)
	}
	return n > 0, nil
}

// usage returns the bytes stored in versions authored by user.
func usage(ctx context.Context, q querier, user string) (int64, error) {
	row, err := queryRow(ctx, q, qb().Select("COALESCE(SUM(size), 0)").From("node_versions").Where(sq.Eq{"author": user}))
	if err != nil {
		return 0, err
	}
	var used int64
	if err := row.Scan(&used); err != nil {
		return 0, dbError(err)
	}
	return used, nil
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}
