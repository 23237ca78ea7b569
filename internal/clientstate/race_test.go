//go:build race

package clientstate

// bolt v1.3.1 trips checkptr in (*Bucket).write when built with -race.
const raceEnabled = true
