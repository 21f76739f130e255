package lead

// mergeLead folds a payload from an untrusted source into an existing lead.
// Per-field policy:
//   - name: overwrite when the payload supplies one
//   - meta: additive by key; payload keys overwrite, absent keys survive
//   - tags: set union, insertion order preserved
//   - notes: payload notes appended after existing ones
//   - next action: replaced wholesale when the payload supplies one
//   - id, profile url, stage, created/stage-changed timestamps: untouched
//
// The result is a fresh copy; the input lead is not mutated.
func mergeLead(existing *Lead, payload MergePayload, nowSeconds int64) *Lead {
	merged := *existing

	if payload.Name != "" {
		merged.Name = payload.Name
	}

	if len(payload.Meta) > 0 {
		meta := make(map[string]any, len(existing.Meta)+len(payload.Meta))
		for key, value := range existing.Meta {
			meta[key] = value
		}
		for key, value := range payload.Meta {
			meta[key] = value
		}
		merged.Meta = meta
	}

	merged.Tags = unionTags(existing.Tags, payload.Tags)

	if len(payload.Notes) > 0 {
		notes := make([]Note, 0, len(existing.Notes)+len(payload.Notes))
		notes = append(notes, existing.Notes...)
		notes = append(notes, payload.Notes...)
		merged.Notes = notes
	}

	if payload.NextAction != nil {
		nextAction := *payload.NextAction
		merged.NextAction = &nextAction
	}

	merged.UpdatedAtSeconds = nowSeconds
	return &merged
}

// newLead builds the initial record for a reference seen for the first time.
// The stage always starts at NEW; only ApplyEvent moves it afterwards.
func newLead(id, normalizedURL string, payload MergePayload, nowSeconds int64) *Lead {
	name := payload.Name
	if name == "" {
		name = "Unknown"
	}

	lead := &Lead{
		ID:                    id,
		Name:                  name,
		ProfileURL:            normalizedURL,
		Meta:                  payload.Meta,
		Stage:                 StageNew,
		Tags:                  unionTags(nil, payload.Tags),
		Notes:                 []Note{},
		NextAction:            nil,
		CreatedAtSeconds:      nowSeconds,
		UpdatedAtSeconds:      nowSeconds,
		StageChangedAtSeconds: nowSeconds,
	}

	if len(payload.Notes) > 0 {
		lead.Notes = append(lead.Notes, payload.Notes...)
	}
	if payload.NextAction != nil {
		nextAction := *payload.NextAction
		lead.NextAction = &nextAction
	}

	return lead
}

// unionTags appends the additions that are not already present, preserving
// order and never introducing duplicates.
func unionTags(existing, additions []string) []string {
	merged := make([]string, 0, len(existing)+len(additions))
	seen := make(map[string]struct{}, len(existing)+len(additions))
	for _, tag := range existing {
		if _, ok := seen[tag]; ok {
			continue
		}
		seen[tag] = struct{}{}
		merged = append(merged, tag)
	}
	for _, tag := range additions {
		if _, ok := seen[tag]; ok {
			continue
		}
		seen[tag] = struct{}{}
		merged = append(merged, tag)
	}
	return merged
}
