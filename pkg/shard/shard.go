// Size-bounded destination sharding: an unbounded-growth source tree is
// split into destination folders ("dongleid", "dongleid_part2", ...) that
// each stay under a byte cap. Only the most recently opened shard of a
// source ever receives new files; shard sizes are recomputed from the
// destination listing each run, never persisted.
package shard

import (
	"fmt"
	"regexp"
	"strconv"
)

type State struct {
	Suffix int // 1-based; suffix 1 renders without "_part"
	Bytes  int64
}

type File struct {
	Name string
	Size int64
}

type Assignment struct {
	File   File
	Suffix int
}

// Name renders the destination folder name of one shard.
func Name(source string, suffix int) string {
	if suffix <= 1 {
		return source
	}

	return fmt.Sprintf("%s_part%d", source, suffix)
}

var partSuffixRe = regexp.MustCompile(`^(.+)_part([0-9]+)$`)

// ParseSuffix is the inverse of Name for a given source identifier.
func ParseSuffix(source string, shardName string) (int, bool) {
	if shardName == source {
		return 1, true
	}

	match := partSuffixRe.FindStringSubmatch(shardName)
	if match == nil || match[1] != source {
		return 0, false
	}

	suffix, err := strconv.Atoi(match[2])
	if err != nil || suffix < 2 {
		return 0, false
	}

	return suffix, true
}

// Planner assigns files to shards in arrival order. Assignment is
// append-only: it never reshuffles already-placed files even when a tighter
// packing would exist, so re-running after a partial upload reproduces the
// same placements.
type Planner struct {
	capBytes    int64
	active      int
	activeBytes int64
}

// NewPlanner derives the active shard from the destination's observed state.
// With no existing shards the first placement opens shard 1.
func NewPlanner(existing []State, capBytes int64) *Planner {
	p := &Planner{capBytes: capBytes, active: 1}

	for _, state := range existing {
		if state.Suffix >= p.active {
			p.active = state.Suffix
			p.activeBytes = state.Bytes
		}
	}

	return p
}

// Place assigns one file. A file whose own size exceeds the cap gets a shard
// of its own (the cap cannot be honored for it, but it must not evict or
// block other files).
func (p *Planner) Place(file File) Assignment {
	if p.activeBytes > 0 && p.activeBytes+file.Size > p.capBytes {
		p.active++
		p.activeBytes = 0
	}

	p.activeBytes += file.Size

	return Assignment{File: file, Suffix: p.active}
}
