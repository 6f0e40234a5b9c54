package storage

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

type nodeKey struct {
	Label string
	Key   string
}

type graphOp struct {
	Op    string `json:"op"` // "add_node" | "add_edge"
	ID    int64  `json:"id,omitempty"`
	Label string `json:"label,omitempty"`
	Key   string `json:"key,omitempty"`
	Src   int64  `json:"src,omitempty"`
	Dst   int64  `json:"dst,omitempty"`
	Type  string `json:"type,omitempty"`
}

type graphSnapshot struct {
	NextNodeID int64 `json:"next_node_id"`
	Nodes      []struct {
		ID    int64  `json:"id"`
		Label string `json:"label"`
		Key   string `json:"key"`
	} `json:"nodes"`
	Edges []struct {
		Src  int64  `json:"src"`
		Dst  int64  `json:"dst"`
		Type string `json:"type"`
	} `json:"edges"`
}

// Graph is a named property graph: nodes addressed by (label, key) and
// assigned a stable integer id, with per-edge-type adjacency. Writes are
// appended to a WAL and only folded into the snapshot file by Compact, so a
// crash mid-write loses at most the unflushed WAL tail.
type Graph struct {
	dir string
	mu  sync.Mutex

	nextNodeID int64
	nodeID     map[nodeKey]int64
	nodeLabel  map[int64]string
	adjacency  map[string]map[int64][]int64 // edgeType -> src -> dsts

	wal *os.File
}

func OpenGraph(dir string) (*Graph, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("storage: creating graph dir %s: %w", dir, err)
	}
	g := &Graph{
		dir:       dir,
		nodeID:    map[nodeKey]int64{},
		nodeLabel: map[int64]string{},
		adjacency: map[string]map[int64][]int64{},
	}
	if err := g.loadSnapshot(); err != nil {
		return nil, err
	}
	if err := g.replayWAL(); err != nil {
		return nil, err
	}
	wal, err := os.OpenFile(filepath.Join(dir, "wal.log"), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("storage: opening graph WAL: %w", err)
	}
	g.wal = wal
	return g, nil
}

func (g *Graph) loadSnapshot() error {
	b, err := os.ReadFile(filepath.Join(g.dir, "snapshot.json"))
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("storage: reading graph snapshot: %w", err)
	}
	var snap graphSnapshot
	if err := json.Unmarshal(b, &snap); err != nil {
		return fmt.Errorf("storage: parsing graph snapshot: %w", err)
	}
	g.nextNodeID = snap.NextNodeID
	for _, n := range snap.Nodes {
		g.nodeID[nodeKey{n.Label, n.Key}] = n.ID
		g.nodeLabel[n.ID] = n.Label
	}
	for _, e := range snap.Edges {
		g.addEdgeMem(e.Src, e.Dst, e.Type)
	}
	return nil
}

func (g *Graph) replayWAL() error {
	f, err := os.Open(filepath.Join(g.dir, "wal.log"))
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("storage: reading graph WAL: %w", err)
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var op graphOp
		if err := json.Unmarshal(sc.Bytes(), &op); err != nil {
			continue // truncated last line from a crash mid-append; ignore
		}
		switch op.Op {
		case "add_node":
			g.nodeID[nodeKey{op.Label, op.Key}] = op.ID
			g.nodeLabel[op.ID] = op.Label
			if op.ID >= g.nextNodeID {
				g.nextNodeID = op.ID + 1
			}
		case "add_edge":
			g.addEdgeMem(op.Src, op.Dst, op.Type)
		}
	}
	return sc.Err()
}

func (g *Graph) addEdgeMem(src, dst int64, edgeType string) {
	if g.adjacency[edgeType] == nil {
		g.adjacency[edgeType] = map[int64][]int64{}
	}
	g.adjacency[edgeType][src] = append(g.adjacency[edgeType][src], dst)
}

func (g *Graph) appendWAL(op graphOp) error {
	b, err := json.Marshal(op)
	if err != nil {
		return err
	}
	if _, err := g.wal.Write(append(b, '\n')); err != nil {
		return fmt.Errorf("storage: appending graph WAL entry: %w", err)
	}
	return g.wal.Sync()
}

// AddNode assigns (or returns the existing) stable node id for (label, key).
func (g *Graph) AddNode(label, key string) (int64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	nk := nodeKey{label, key}
	if id, ok := g.nodeID[nk]; ok {
		return id, nil
	}
	id := g.nextNodeID
	g.nextNodeID++
	g.nodeID[nk] = id
	g.nodeLabel[id] = label
	if err := g.appendWAL(graphOp{Op: "add_node", ID: id, Label: label, Key: key}); err != nil {
		return 0, err
	}
	return id, nil
}

func (g *Graph) AddEdge(src, dst int64, edgeType string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.addEdgeMem(src, dst, edgeType)
	return g.appendWAL(graphOp{Op: "add_edge", Src: src, Dst: dst, Type: edgeType})
}

// Compact folds the WAL into snapshot.json (write-then-rename) and starts
// a fresh WAL.
func (g *Graph) Compact() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	var snap graphSnapshot
	snap.NextNodeID = g.nextNodeID
	for nk, id := range g.nodeID {
		snap.Nodes = append(snap.Nodes, struct {
			ID    int64  `json:"id"`
			Label string `json:"label"`
			Key   string `json:"key"`
		}{id, nk.Label, nk.Key})
	}
	for edgeType, bySrc := range g.adjacency {
		for src, dsts := range bySrc {
			for _, dst := range dsts {
				snap.Edges = append(snap.Edges, struct {
					Src  int64  `json:"src"`
					Dst  int64  `json:"dst"`
					Type string `json:"type"`
				}{src, dst, edgeType})
			}
		}
	}

	b, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return err
	}
	tmp := filepath.Join(g.dir, "snapshot.json.tmp")
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmp, filepath.Join(g.dir, "snapshot.json")); err != nil {
		return err
	}

	g.wal.Close()
	walPath := filepath.Join(g.dir, "wal.log")
	if err := os.Remove(walPath); err != nil && !os.IsNotExist(err) {
		return err
	}
	wal, err := os.OpenFile(walPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	g.wal = wal
	return nil
}

// BFSResult is one row of a graph_neighbors() result.
type BFSResult struct {
	NodeID int64
	Depth  int
}

// BFS walks edgeType edges from start up to maxDepth hops, deduplicating by
// node id (first depth at which a node is reached wins) and returning
// results in visit order, start itself at depth 0.
func (g *Graph) BFS(start int64, edgeType string, maxDepth int) []BFSResult {
	g.mu.Lock()
	defer g.mu.Unlock()

	visited := map[int64]bool{start: true}
	results := []BFSResult{{NodeID: start, Depth: 0}}
	frontier := []int64{start}

	for depth := 1; depth <= maxDepth && len(frontier) > 0; depth++ {
		var next []int64
		for _, node := range frontier {
			for _, dst := range g.adjacency[edgeType][node] {
				if visited[dst] {
					continue
				}
				visited[dst] = true
				results = append(results, BFSResult{NodeID: dst, Depth: depth})
				next = append(next, dst)
			}
		}
		frontier = next
	}
	return results
}

func (g *Graph) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.wal.Close()
}
