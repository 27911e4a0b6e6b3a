// Package grouping clusters models that draw from the same backend quota
// pool and applies the user's pin, rename and order overrides.
package grouping

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/ppiankov/autoaccept/internal/quota"
)

// Group is one quota pool and its members.
type Group struct {
	ID            string             `json:"id"`
	DisplayName   string             `json:"display_name"`
	Key           string             `json:"key"`
	Members       []quota.ModelQuota `json:"members"`
	UsedSum       float64            `json:"used_sum"`
	TotalSum      float64            `json:"total_sum"`
	Percentage    int                `json:"percentage"`
	EarliestReset *time.Time         `json:"earliest_reset,omitempty"`
	Pinned        bool               `json:"pinned"`
	SortOrder     int                `json:"sort_order"`
}

// Signature returns the grouping key for a model: the rounded remaining
// fraction and reset time when the reset time is trustworthy, otherwise the
// static pool name.
func Signature(m quota.ModelQuota) string {
	if m.HasSignature() {
		return fmt.Sprintf("sig:%.6f@%d", m.RemainingFraction, m.ResetTime.UnixMilli())
	}
	name := m.ModelID
	if _, ok := lookupPool(name); !ok {
		name = m.DisplayName
	}
	return "pool:" + StaticPool(name)
}

// CreateGroups builds groups from scratch and applies ov. Output order is
// pinned first, then ov.Order, then discovery order.
func CreateGroups(models []quota.ModelQuota, ov Overrides) []Group {
	var groups []*Group
	byKey := make(map[string]*Group)
	for _, m := range models {
		key := Signature(m)
		g, ok := byKey[key]
		if !ok {
			g = &Group{Key: key}
			byKey[key] = g
			groups = append(groups, g)
		}
		g.Members = append(g.Members, m)
	}

	for _, g := range groups {
		g.ID = groupID(g.Members)
		g.DisplayName = defaultName(g)
		aggregate(g)
	}

	pinned := make(map[string]bool, len(ov.Pinned))
	for _, id := range ov.Pinned {
		pinned[id] = true
	}
	orderIdx := make(map[string]int, len(ov.Order))
	for i, id := range ov.Order {
		if _, dup := orderIdx[id]; !dup {
			orderIdx[id] = i
		}
	}

	discovery := make(map[string]int, len(groups))
	for i, g := range groups {
		discovery[g.ID] = i
		g.Pinned = pinned[g.ID]
		if name := strings.TrimSpace(ov.Renames[g.ID]); name != "" {
			g.DisplayName = name
		}
	}

	sort.SliceStable(groups, func(i, j int) bool {
		a, b := groups[i], groups[j]
		if a.Pinned != b.Pinned {
			return a.Pinned
		}
		ai, aok := orderIdx[a.ID]
		bi, bok := orderIdx[b.ID]
		switch {
		case aok && bok:
			return ai < bi
		case aok != bok:
			return aok
		}
		return discovery[a.ID] < discovery[b.ID]
	})

	out := make([]Group, len(groups))
	for i, g := range groups {
		g.SortOrder = i
		out[i] = *g
	}
	return out
}

func aggregate(g *Group) {
	g.UsedSum, g.TotalSum = 0, 0
	for _, m := range g.Members {
		g.UsedSum += float64(m.PercentUsed)
		g.TotalSum += 100
		if m.ResetTime.IsZero() || m.ResetTimeUnreliable {
			continue
		}
		if g.EarliestReset == nil || m.ResetTime.Before(*g.EarliestReset) {
			t := m.ResetTime
			g.EarliestReset = &t
		}
	}
	if g.TotalSum > 0 {
		g.Percentage = int(math.Round(g.UsedSum / g.TotalSum * 100))
	}
}

// groupID hashes the sorted member ids so a pool keeps its id across refreshes.
func groupID(members []quota.ModelQuota) string {
	ids := make([]string, 0, len(members))
	for _, m := range members {
		ids = append(ids, m.ModelID)
	}
	sort.Strings(ids)
	sum := sha256.Sum256([]byte(strings.Join(ids, "\x00")))
	return hex.EncodeToString(sum[:6])
}

func defaultName(g *Group) string {
	if len(g.Members) == 1 {
		return g.Members[0].DisplayName
	}
	first, _ := lookupPool(g.Members[0].ModelID)
	same := first.pool != UngroupedPool
	for _, m := range g.Members[1:] {
		if p, _ := lookupPool(m.ModelID); p.pool != first.pool {
			same = false
			break
		}
	}
	if same || strings.HasPrefix(g.Key, "pool:") {
		return first.title
	}
	return fmt.Sprintf("%s +%d", g.Members[0].DisplayName, len(g.Members)-1)
}
