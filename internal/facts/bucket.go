package facts

import (
	"github.com/sells-group/campaignfin/internal/model"
	"github.com/sells-group/campaignfin/internal/resolve"
)

// entityBuckets maps regulator entity-type codes to contributor buckets.
var entityBuckets = map[string]model.Bucket{
	"IND": model.BucketIndividual,
	"CAN": model.BucketSelf,
	"CCM": model.BucketCommittee,
	"COM": model.BucketCommittee,
	"PAC": model.BucketCommittee,
	"PTY": model.BucketParty,
	"ORG": model.BucketOther,
}

// Classify buckets a receipt for one candidate. The entity-type code wins
// when present; a blank code falls back to comparing the contributor name
// with the candidate's search keys.
func Classify(tx model.Transaction, cand model.Candidate) model.Bucket {
	if tx.EntityType != "" {
		if b, ok := entityBuckets[tx.EntityType]; ok {
			return b
		}
		return model.BucketOther
	}
	if resolve.HasKey(tx.Name, cand.SearchKeys) {
		return model.BucketSelf
	}
	return model.BucketIndividual
}
