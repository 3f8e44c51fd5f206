package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"math"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/fyrsmithlabs/agentloop/internal/textmatch"
	"github.com/philippgille/chromem-go"
)

const (
	episodeCollection = "episodes"
	embeddingDims     = 256
)

// Episode is a compact summary of a past session.
type Episode struct {
	ID         string    `json:"id"`
	SessionID  int64     `json:"session_id"`
	TaskType   string    `json:"task_type"`
	Goal       string    `json:"goal"`
	Outcome    string    `json:"outcome"`
	Summary    string    `json:"summary"`
	Learnings  []string  `json:"learnings,omitempty"`
	RecordedAt time.Time `json:"recorded_at"`
}

func (e Episode) document() string {
	var b strings.Builder
	b.WriteString(e.Goal)
	b.WriteString("\n")
	b.WriteString(e.Summary)
	for _, l := range e.Learnings {
		b.WriteString("\n")
		b.WriteString(l)
	}
	return b.String()
}

// ScoredEpisode is a search hit.
type ScoredEpisode struct {
	Episode
	Score float64 `json:"score"`
}

// EpisodeIndex stores episodes in a chromem collection and ranks them
// by cosine similarity of hashed bag-of-words embeddings.
type EpisodeIndex struct {
	db         *chromem.DB
	collection *chromem.Collection
	mu         sync.Mutex
}

// NewEpisodeIndex opens a persistent index under dir, or an in-memory
// index when dir is empty.
func NewEpisodeIndex(dir string) (*EpisodeIndex, error) {
	var (
		db  *chromem.DB
		err error
	)
	if dir == "" {
		db = chromem.NewDB()
	} else {
		if err := ensureDir(dir); err != nil {
			return nil, err
		}
		db, err = chromem.NewPersistentDB(dir, false)
		if err != nil {
			return nil, fmt.Errorf("open episode index: %w", err)
		}
	}
	collection, err := db.GetOrCreateCollection(episodeCollection, nil, HashEmbedding)
	if err != nil {
		return nil, fmt.Errorf("open episode collection: %w", err)
	}
	return &EpisodeIndex{db: db, collection: collection}, nil
}

// Add indexes an episode, replacing any episode with the same id.
func (x *EpisodeIndex) Add(ctx context.Context, ep Episode) error {
	if err := validateID(ep.ID); err != nil {
		return err
	}
	raw, err := json.Marshal(ep)
	if err != nil {
		return fmt.Errorf("encode episode: %w", err)
	}
	doc := chromem.Document{
		ID:      ep.ID,
		Content: ep.document(),
		Metadata: map[string]string{
			"task_type":  ep.TaskType,
			"session_id": strconv.FormatInt(ep.SessionID, 10),
			"outcome":    ep.Outcome,
			"episode":    string(raw),
		},
	}
	x.mu.Lock()
	defer x.mu.Unlock()
	if err := x.collection.AddDocument(ctx, doc); err != nil {
		return fmt.Errorf("index episode %s: %w", ep.ID, err)
	}
	return nil
}

// Count returns the number of indexed episodes.
func (x *EpisodeIndex) Count() int {
	return x.collection.Count()
}

// Search returns at most k episodes most similar to query, restricted to
// taskType when it is non-empty. Results are ordered by descending score
// with ties broken by id, so identical inputs give identical output.
func (x *EpisodeIndex) Search(ctx context.Context, taskType, query string, k int) ([]ScoredEpisode, error) {
	if k <= 0 {
		return nil, nil
	}
	x.mu.Lock()
	defer x.mu.Unlock()

	n := x.collection.Count()
	if n == 0 {
		return nil, nil
	}
	var where map[string]string
	if taskType != "" {
		where = map[string]string{"task_type": taskType}
	}
	// Query the whole collection so ties at the k boundary resolve by id
	// rather than by chromem's internal ordering.
	results, err := x.collection.Query(ctx, query, n, where, nil)
	if err != nil {
		return nil, fmt.Errorf("search episodes: %w", err)
	}

	out := make([]ScoredEpisode, 0, len(results))
	for _, r := range results {
		var ep Episode
		if err := json.Unmarshal([]byte(r.Metadata["episode"]), &ep); err != nil {
			continue
		}
		out = append(out, ScoredEpisode{Episode: ep, Score: round(float64(r.Similarity))})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].ID < out[j].ID
	})
	if len(out) > k {
		out = out[:k]
	}
	return out, nil
}

// round trims float32 noise so equal similarities compare equal.
func round(f float64) float64 {
	return math.Round(f*1e6) / 1e6
}

// HashEmbedding is a deterministic chromem.EmbeddingFunc using signed
// feature hashing of keywords. Dimension 0 is a constant bias so empty
// text still has a unit vector.
func HashEmbedding(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, embeddingDims)
	vec[0] = 0.1
	for _, tok := range textmatch.Keywords(text) {
		h := fnv.New32a()
		_, _ = h.Write([]byte(tok))
		sum := h.Sum32()
		idx := 1 + int(sum%uint32(embeddingDims-1))
		if sum&(1<<31) != 0 {
			vec[idx] -= 1
		} else {
			vec[idx] += 1
		}
	}
	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	norm = math.Sqrt(norm)
	for i := range vec {
		vec[i] = float32(float64(vec[i]) / norm)
	}
	return vec, nil
}
