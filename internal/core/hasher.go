package core

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"hash"
	"sort"
)

// TaskHash identifies one task execution: same hash, same work.
type TaskHash string

func (t TaskHash) String() string { return string(t) }

// TaskHasher computes TaskHashes. Every component is length-prefixed and
// every unordered collection is sorted first, so the hash depends only on
// content.
type TaskHasher struct{}

func NewTaskHasher() *TaskHasher { return &TaskHasher{} }

// HashInput is everything that makes up a task's identity.
type HashInput struct {
	Inputs     *InputSet
	Command    string
	Env        map[string]string
	Outputs    []string
	WorkingDir string
}

// ComputeHash hashes, in order: working dir, command, sorted env pairs,
// sorted declared outputs, then each input's path and content.
func (h *TaskHasher) ComputeHash(input HashInput) TaskHash {
	sum := sha256.New()

	writeField(sum, []byte(input.WorkingDir))
	writeField(sum, []byte(input.Command))

	envKeys := make([]string, 0, len(input.Env))
	for k := range input.Env {
		envKeys = append(envKeys, k)
	}
	sort.Strings(envKeys)
	writeCount(sum, len(envKeys))
	for _, k := range envKeys {
		writeField(sum, []byte(k))
		writeField(sum, []byte(input.Env[k]))
	}

	outputs := append([]string(nil), input.Outputs...)
	sort.Strings(outputs)
	writeCount(sum, len(outputs))
	for _, o := range outputs {
		writeField(sum, []byte(o))
	}

	var inputs []Input
	if input.Inputs != nil {
		inputs = input.Inputs.Inputs
	}
	writeCount(sum, len(inputs))
	for _, in := range inputs {
		writeField(sum, []byte(in.Path))
		writeField(sum, in.Content)
	}

	return TaskHash(hex.EncodeToString(sum.Sum(nil)))
}

// writeField writes an 8-byte big-endian length prefix followed by data.
func writeField(h hash.Hash, data []byte) {
	var prefix [8]byte
	binary.BigEndian.PutUint64(prefix[:], uint64(len(data)))
	h.Write(prefix[:])
	h.Write(data)
}

func writeCount(h hash.Hash, n int) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(n))
	writeField(h, b[:])
}
