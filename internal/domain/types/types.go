// Package types contains common types used across the application
package types

// Entry represents a leaderboard entry
type Entry struct {
	Rank   int    `json:"rank"`
	LeadID string `json:"leadId"`
	Name   string `json:"name"`
	Score  int64  `json:"score"`
	Status string `json:"status"`
}

// AssignRanks assigns dense ranks to entries already sorted by score desc.
// Leads with the same score share a rank and the next score gets rank+1.
func AssignRanks(entries []Entry) {
	rank := 0
	for i := range entries {
		if i == 0 || entries[i].Score != entries[i-1].Score {
			rank++
		}
		entries[i].Rank = rank
	}
}
