package core

import (
	"fmt"
	"sync"

	"optimus/pkg/domain"
)

// DefaultBatchSize is the number of petitions raised per generation.
const DefaultBatchSize = 5

// NoValidNormMessage is reported when there is nothing to petition against.
const NoValidNormMessage = "No valid norm to generate case."

// CaseTypes are the petition labels drawn for generated cases.
var CaseTypes = []string{
	"Environmental Concern",
	"Civil Rights Issue",
	"Labor Dispute",
	"Consumer Protection",
	"Public Safety Concern",
}

// CitizenPressure raises petitions against valid norms.
type CitizenPressure struct {
	BatchSize int

	mu  sync.Mutex
	rnd RandomSource
}

// NewCitizenPressure constructs the generator. batchSize <= 0 selects DefaultBatchSize.
func NewCitizenPressure(rnd RandomSource, batchSize int) *CitizenPressure {
	if rnd == nil {
		rnd = DefaultRandom()
	}
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &CitizenPressure{BatchSize: batchSize, rnd: rnd}
}

// GenerateCases draws BatchSize norms with replacement and creates one pending
// case per draw in tx. An empty input returns an empty batch.
func (c *CitizenPressure) GenerateCases(tx Transaction, validNorms []Norm) ([]Case, error) {
	if len(validNorms) == 0 {
		return []Case{}, nil
	}
	type draw struct {
		norm  Norm
		label string
	}
	c.mu.Lock()
	draws := make([]draw, c.BatchSize)
	for i := range draws {
		draws[i] = draw{
			norm:  validNorms[c.rnd.IntN(len(validNorms))],
			label: CaseTypes[c.rnd.IntN(len(CaseTypes))],
		}
	}
	c.mu.Unlock()

	cases := make([]Case, 0, len(draws))
	for _, d := range draws {
		created, err := tx.CreateCase(Case{
			Text:           fmt.Sprintf("Citizen Petition: %s regarding norm %s", d.label, d.norm.Text),
			NormID:         d.norm.ID,
			Constitutional: true,
			Status:         domain.CaseStatusPending,
		})
		if err != nil {
			return nil, fmt.Errorf("create petition: %w", err)
		}
		cases = append(cases, created)
	}
	return cases, nil
}
