package classifier

import (
	"bytes"
	"fmt"
	"math/rand"
	"sort"

	"github.com/coder/hnsw"
	"github.com/kozaktomas/face-auth/internal/constants"
	"github.com/kozaktomas/face-auth/internal/database"
)

// Neighbor is one training vector returned by a kNN query.
type Neighbor struct {
	EmbeddingID int64
	IdentityID  int64
	Distance    float64
}

// KNN is an exact k-nearest-neighbour classifier over standardized vectors.
// Training vectors are kept in an HNSW graph keyed by embedding id, which is
// also the persisted form. Queries scan every training vector.
type KNN struct {
	k      int
	graph  *hnsw.Graph[int64]
	labels map[int64]int64 // embedding id -> identity id
	points []point         // ascending embedding id
}

type point struct {
	embeddingID int64
	identityID  int64
	vec         []float32
}

func newGraph() *hnsw.Graph[int64] {
	g := hnsw.NewGraph[int64]()
	g.M = constants.ClassifierMaxNeighbors
	g.Ml = 1.0 / float64(constants.ClassifierMaxNeighbors)
	g.EfSearch = constants.ClassifierEfSearch
	g.Distance = hnsw.EuclideanDistance
	g.Rng = rand.New(rand.NewSource(constants.ClassifierSeed)) //nolint:gosec // deterministic graph layout
	return g
}

// fitKNN inserts the already standardized vectors in record order.
func fitKNN(records []database.EmbeddingRecord, scaled [][]float32, k int) *KNN {
	g := newGraph()
	labels := make(map[int64]int64, len(records))
	for i := range records {
		g.Add(hnsw.MakeNode(records[i].ID, scaled[i]))
		labels[records[i].ID] = records[i].IdentityID
	}
	points, _ := collectPoints(g, labels)
	return &KNN{k: k, graph: g, labels: labels, points: points}
}

// collectPoints reads every labelled vector back from the graph.
func collectPoints(g *hnsw.Graph[int64], labels map[int64]int64) ([]point, error) {
	points := make([]point, 0, len(labels))
	for embeddingID, identityID := range labels {
		vec, ok := g.Lookup(embeddingID)
		if !ok {
			return nil, fmt.Errorf("embedding %d missing from graph", embeddingID)
		}
		points = append(points, point{embeddingID: embeddingID, identityID: identityID, vec: vec})
	}
	sort.Slice(points, func(i, j int) bool { return points[i].embeddingID < points[j].embeddingID })
	return points, nil
}

// K returns the number of neighbours consulted per vote.
func (m *KNN) K() int {
	return m.k
}

// Len returns the number of training vectors.
func (m *KNN) Len() int {
	return len(m.points)
}

// Neighbors returns the k training vectors nearest to the standardized
// query, ordered by distance then embedding id.
func (m *KNN) Neighbors(query []float32) []Neighbor {
	all := make([]Neighbor, len(m.points))
	for i, p := range m.points {
		all[i] = Neighbor{
			EmbeddingID: p.embeddingID,
			IdentityID:  p.identityID,
			Distance:    float64(hnsw.EuclideanDistance(query, p.vec)),
		}
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].Distance != all[j].Distance {
			return all[i].Distance < all[j].Distance
		}
		return all[i].EmbeddingID < all[j].EmbeddingID
	})
	if len(all) > m.k {
		all = all[:m.k]
	}
	return all
}

// vote picks the identity with the most neighbours. Ties go to the smaller
// summed distance, then to the lower identity id. Equal vote counts are
// therefore not settled by identity id alone.
func vote(neighbors []Neighbor) (identityID int64, votes int) {
	type tally struct {
		votes int
		dist  float64
	}
	tallies := make(map[int64]*tally)
	for _, n := range neighbors {
		t, ok := tallies[n.IdentityID]
		if !ok {
			t = &tally{}
			tallies[n.IdentityID] = t
		}
		t.votes++
		t.dist += n.Distance
	}

	var best *tally
	for id, t := range tallies {
		switch {
		case best == nil,
			t.votes > best.votes,
			t.votes == best.votes && t.dist < best.dist,
			t.votes == best.votes && t.dist == best.dist && id < identityID:
			best, identityID = t, id
		}
	}
	if best == nil {
		return 0, 0
	}
	return identityID, best.votes
}

// exportGraph serializes the graph.
func (m *KNN) exportGraph() ([]byte, error) {
	var buf bytes.Buffer
	if err := m.graph.Export(&buf); err != nil {
		return nil, fmt.Errorf("exporting graph: %w", err)
	}
	return buf.Bytes(), nil
}

// importKNN restores a classifier from its serialized graph and labels.
func importKNN(data []byte, labels map[int64]int64, k int) (*KNN, error) {
	g := newGraph()
	if err := g.Import(bytes.NewReader(data)); err != nil {
		return nil, fmt.Errorf("importing graph: %w", err)
	}
	if g.Len() != len(labels) {
		return nil, fmt.Errorf("graph has %d nodes, labels have %d", g.Len(), len(labels))
	}
	points, err := collectPoints(g, labels)
	if err != nil {
		return nil, err
	}
	return &KNN{k: k, graph: g, labels: labels, points: points}, nil
}
