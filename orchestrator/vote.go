package orchestrator

// VoterDetail records one vote's provenance.
type VoterDetail struct {
	Voter  string `json:"voter"`
	Reason string `json:"reason,omitempty"`
}

// VoteResult is the tally of one voting round. Recomputed fresh on each
// tally, never mutated in place.
type VoteResult struct {
	VoteCounts   map[string]int           `json:"vote_counts"`
	Winner       string                   `json:"winner"`
	IsTie        bool                     `json:"is_tie"`
	VoterDetails map[string][]VoterDetail `json:"voter_details"`
	TotalVotes   int                      `json:"total_votes"`
	AgentsVoted  int                      `json:"agents_voted"`
}

type voteRecord struct {
	voter  string
	target string // agent id owning the voted answer
	reason string
}

// tally computes the vote result. Ties break to the earliest agent in
// registration order, so the same vote set always yields the same winner.
func tally(votes []voteRecord, registrationOrder []string) *VoteResult {
	result := &VoteResult{
		VoteCounts:   make(map[string]int),
		VoterDetails: make(map[string][]VoterDetail),
	}

	voters := make(map[string]bool)
	for _, v := range votes {
		result.VoteCounts[v.target]++
		result.VoterDetails[v.target] = append(result.VoterDetails[v.target],
			VoterDetail{Voter: v.voter, Reason: v.reason})
		result.TotalVotes++
		voters[v.voter] = true
	}
	result.AgentsVoted = len(voters)

	max := 0
	for _, count := range result.VoteCounts {
		if count > max {
			max = count
		}
	}
	if max == 0 {
		return result
	}

	leaders := 0
	for _, count := range result.VoteCounts {
		if count == max {
			leaders++
		}
	}
	result.IsTie = leaders > 1

	for _, id := range registrationOrder {
		if result.VoteCounts[id] == max {
			result.Winner = id
			break
		}
	}
	return result
}
