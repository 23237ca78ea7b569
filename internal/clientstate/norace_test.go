//go:build !race

package clientstate

const raceEnabled = false
