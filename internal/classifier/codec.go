package classifier

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/renameio"
	"github.com/klauspost/compress/zstd"
	"github.com/kozaktomas/face-auth/internal/database"
	"github.com/vmihailenco/msgpack/v5"
)

const snapshotFormatVersion = 1

// ErrCorruptSnapshot is returned when a persisted snapshot cannot be decoded.
var ErrCorruptSnapshot = errors.New("corrupt classifier snapshot")

// envelope is the on-disk form of a Snapshot. The scaler and the graph are
// always written and read together.
type envelope struct {
	Version int             `msgpack:"v"`
	ID      string          `msgpack:"id"`
	BuiltAt time.Time       `msgpack:"built_at"`
	Count   int64           `msgpack:"count"`
	MaxID   int64           `msgpack:"max_id"`
	K       int             `msgpack:"k"`
	Mean    []float64       `msgpack:"mean"`
	Scale   []float64       `msgpack:"scale"`
	Labels  map[int64]int64 `msgpack:"labels"`
	Graph   []byte          `msgpack:"graph"`
}

// Encode serializes and compresses a snapshot.
func Encode(s *Snapshot) ([]byte, error) {
	graph, err := s.knn.exportGraph()
	if err != nil {
		return nil, err
	}

	raw, err := msgpack.Marshal(&envelope{
		Version: snapshotFormatVersion,
		ID:      s.ID,
		BuiltAt: s.BuiltAt,
		Count:   s.Generation.Count,
		MaxID:   s.Generation.MaxID,
		K:       s.knn.k,
		Mean:    s.scaler.Mean,
		Scale:   s.scaler.Scale,
		Labels:  s.knn.labels,
		Graph:   graph,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal snapshot: %w", err)
	}

	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("create zstd encoder: %w", err)
	}
	defer enc.Close()
	return enc.EncodeAll(raw, nil), nil
}

// Decode restores a snapshot produced by Encode.
func Decode(data []byte) (*Snapshot, error) {
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("create zstd decoder: %w", err)
	}
	defer dec.Close()

	raw, err := dec.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptSnapshot, err)
	}

	var env envelope
	if err := msgpack.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptSnapshot, err)
	}
	if env.Version != snapshotFormatVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrCorruptSnapshot, env.Version)
	}
	if len(env.Mean) == 0 || len(env.Mean) != len(env.Scale) || env.K <= 0 {
		return nil, fmt.Errorf("%w: malformed scaler", ErrCorruptSnapshot)
	}

	knn, err := importKNN(env.Graph, env.Labels, env.K)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptSnapshot, err)
	}

	return &Snapshot{
		ID:         env.ID,
		BuiltAt:    env.BuiltAt,
		Generation: database.Generation{Count: env.Count, MaxID: env.MaxID},
		scaler:     &Scaler{Mean: env.Mean, Scale: env.Scale},
		knn:        knn,
	}, nil
}

// WriteFile atomically replaces path with the encoded snapshot.
func WriteFile(path string, s *Snapshot) error {
	data, err := Encode(s)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create snapshot directory: %w", err)
	}
	if err := renameio.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	return nil
}

// ReadFile loads a snapshot written by WriteFile.
func ReadFile(path string) (*Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}
	return Decode(data)
}
