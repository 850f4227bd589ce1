package aiflow

import (
	"context"
	"fmt"
	"sync"
)

// Mock answers with canned JSON per flow name. It backs AI_SKIP mode and
// tests.
type Mock struct {
	// Responses overrides the canned output for a flow.
	Responses map[string]string
	// Err, when set, fails every call.
	Err error

	mu    sync.Mutex
	calls []Request
}

var canned = map[string]string{
	"analyzeFeedback": `{"summary":"Parents report the meal was served late and cold.","impactLevel":"Medium","suggestedAction":"Review the serving schedule with the kitchen staff."}`,
	"checkHygiene":    `{"cleanliness":"Clean"}`,
	"generatePurchasePlan": `{"purchaseList":[` +
		`{"item":"Basmati rice","quantity":"45 kg","estimatedCost":4050},` +
		`{"item":"Mixed vegetables","quantity":"30 kg","estimatedCost":1800},` +
		`{"item":"Cooking oil","quantity":"3 L","estimatedCost":450}],"totalEstimatedCost":6300}`,
	"planMeal": `{` +
		`"breakfast":{"name":"Vegetable Upma","description":"Semolina cooked with vegetables.","calories":320,"nutrients":{"protein":12,"carbohydrates":68,"fats":20}},` +
		`"lunch":{"name":"Sambar Rice","description":"Rice with lentil and vegetable stew.","calories":520,"nutrients":{"protein":15,"carbohydrates":70,"fats":15}},` +
		`"snacks":{"name":"Sundal","description":"Spiced chickpeas with coconut.","calories":180,"nutrients":{"protein":20,"carbohydrates":60,"fats":20}}}`,
	"suggestDonation": `{"donationMessage":"We have surplus cooked food available for pickup today.","suggestedCharities":[` +
		`{"name":"Annapurna Food Bank","address":"12 Market Road"},` +
		`{"name":"Helping Hands Trust","address":"4 Temple Street"},` +
		`{"name":"Roti Ghar","address":"88 Station Lane"}]}`,
}

// Generate implements Generator.
func (m *Mock) Generate(ctx context.Context, req Request) ([]byte, error) {
	m.mu.Lock()
	m.calls = append(m.calls, req)
	m.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if m.Err != nil {
		return nil, m.Err
	}
	if out, ok := m.Responses[req.Name]; ok {
		return []byte(out), nil
	}
	if out, ok := canned[req.Name]; ok {
		return []byte(out), nil
	}
	return nil, fmt.Errorf("mock: no response for %s", req.Name)
}

// Calls returns the requests seen so far.
func (m *Mock) Calls() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Request(nil), m.calls...)
}
