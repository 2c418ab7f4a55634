// Package core turns declared shell tasks into schedulable jobs.
//
// A Task names a command, the files it reads and the files it writes. The
// Runner hashes a task's identity (command, declared env, declared outputs,
// working directory, input contents) and compares it with the fingerprint
// recorded by the last successful run:
//
//   - a recorded fingerprint whose outputs still hash the same makes the task
//     Fresh, and its job does nothing;
//   - anything else makes it Dirty, and its job runs the command, streams
//     its output, and records a new fingerprint on success.
//
// A failed run removes the fingerprint, so the task stays dirty until it
// succeeds.
package core
