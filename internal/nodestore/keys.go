package nodestore

import (
	"fmt"
	"strconv"
)

// Key namespace:
//
//	Prefix  Key format              Value
//	n:      n:<uuid>                nodeRecord (JSON)
//	p:      p:<path>                node uuid
//	c:      c:<parentUUID>:<name>   child uuid
//	v:      v:<docUUID>:<seq>       versionRecord (JSON)
//	u:      u:<user>                bytes stored by user (uint64)
//	o:      o:<id>                  okm.Operation (JSON)
//
// Children and versions are listed with prefix scans. Sequence numbers and
// operation IDs are zero padded so key order matches numeric order.
const (
	prefixNode      = "n:"
	prefixPath      = "p:"
	prefixChild     = "c:"
	prefixVersion   = "v:"
	prefixUsage     = "u:"
	prefixOperation = "o:"
)

func keyNode(uuid string) []byte {
	return []byte(prefixNode + uuid)
}

func keyPath(path string) []byte {
	return []byte(prefixPath + path)
}

func keyChild(parentUUID, name string) []byte {
	return []byte(prefixChild + parentUUID + ":" + name)
}

func keyChildPrefix(parentUUID string) []byte {
	return []byte(prefixChild + parentUUID + ":")
}

func keyVersion(docUUID string, seq int) []byte {
	return []byte(fmt.Sprintf("%s%s:%08d", prefixVersion, docUUID, seq))
}

func keyVersionPrefix(docUUID string) []byte {
	return []byte(prefixVersion + docUUID + ":")
}

func keyUsage(user string) []byte {
	return []byte(prefixUsage + user)
}

func keyOperation(id int64) []byte {
	return []byte(fmt.Sprintf("%s%020d", prefixOperation, id))
}

func operationID(key []byte) (int64, error) {
	if len(key) <= len(prefixOperation) {
		return 0, fmt.Errorf("malformed operation key %q", key)
	}
	return strconv.ParseInt(string(key[len(prefixOperation):]), 10, 64)
}
