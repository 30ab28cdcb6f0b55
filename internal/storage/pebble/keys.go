package pebblestore

import (
	"bytes"
	"fmt"

	"github.com/ozgurakan/marconi/pkg/id"
)

// Keyspace, all under proj/{project}/q/{queue}/:
//
//	meta                 - queue metadata document
//	msg/{16-byte id}     - message record (JSON)
//	fp/{fingerprint}     - client identity index -> 16-byte message id
//	claim/{claim_id}     - claim record (JSON)
//
// The engine validates project ids and queue names against charsets that
// exclude '/' before any backend call, so prefixes never collide.
const (
	prefixMsg   = "msg/"
	prefixFp    = "fp/"
	prefixClaim = "claim/"
)

// projectsPrefix spans every queue of every project.
var projectsPrefix = []byte("proj/")

// queuePrefix returns the base prefix for one queue.
func queuePrefix(project, queue string) string {
	return fmt.Sprintf("proj/%s/q/%s/", project, queue)
}

// projectQueuesPrefix spans all queues of one project.
func projectQueuesPrefix(project string) string {
	return fmt.Sprintf("proj/%s/q/", project)
}

func metaKey(project, queue string) []byte {
	return []byte(queuePrefix(project, queue) + "meta")
}

func msgKey(project, queue string, mid id.ID) []byte {
	prefix := queuePrefix(project, queue) + prefixMsg
	key := make([]byte, len(prefix)+16)
	copy(key, prefix)
	copy(key[len(prefix):], mid[:])
	return key
}

func fpKey(project, queue, fingerprint string) []byte {
	return []byte(queuePrefix(project, queue) + prefixFp + fingerprint)
}

func claimKey(project, queue, claimID string) []byte {
	return []byte(queuePrefix(project, queue) + prefixClaim + claimID)
}

// keyRange returns start and end keys for scanning a prefix. The end key is
// exclusive (prefix + 0xFF).
func keyRange(prefix string) ([]byte, []byte) {
	start := []byte(prefix)
	end := make([]byte, len(prefix)+1)
	copy(end, prefix)
	end[len(prefix)] = 0xFF
	return start, end
}

// msgScanBounds builds iterator bounds over a queue's messages, resuming
// strictly after marker when it is nonzero.
func msgScanBounds(project, queue string, marker id.ID) ([]byte, []byte) {
	prefix := queuePrefix(project, queue) + prefixMsg
	start, end := keyRange(prefix)
	if !marker.IsZero() {
		// ids are fixed width, so marker+0x00 is the smallest key after it
		start = append(msgKey(project, queue, marker), 0x00)
	}
	return start, end
}

// queueNameFromMetaKey extracts the queue name from a meta key under the
// given project prefix, or "" when the key is not a meta key.
func queueNameFromMetaKey(key []byte, projectPrefix string) string {
	if !bytes.HasPrefix(key, []byte(projectPrefix)) {
		return ""
	}
	rest := key[len(projectPrefix):]
	i := bytes.IndexByte(rest, '/')
	if i < 0 || string(rest[i+1:]) != "meta" {
		return ""
	}
	return string(rest[:i])
}

// projectFromKey extracts the project segment from any key under proj/.
func projectFromKey(key []byte) string {
	if !bytes.HasPrefix(key, projectsPrefix) {
		return ""
	}
	rest := key[len(projectsPrefix):]
	i := bytes.IndexByte(rest, '/')
	if i < 0 {
		return ""
	}
	return string(rest[:i])
}
