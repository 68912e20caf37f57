package store

import (
	"encoding/json"

	"github.com/rotisserie/eris"
)

// assignments flattens a ConceptUpdate into column names and values, JSON
// payloads already marshaled. Placeholder syntax is left to the backend.
func (u ConceptUpdate) assignments() ([]string, []any, error) {
	var cols []string
	var args []any

	add := func(col string, v any) {
		cols = append(cols, col)
		args = append(args, v)
	}
	addJSON := func(col string, v any) error {
		b, err := json.Marshal(v)
		if err != nil {
			return eris.Wrapf(err, "store: marshal %s", col)
		}
		add(col, string(b))
		return nil
	}

	if u.Status != nil {
		add("status", string(*u.Status))
	}
	if u.Progress != nil {
		add("progress", *u.Progress)
	}
	if u.GapIteration != nil {
		add("gap_iteration", *u.GapIteration)
	}
	if u.SearchQueries != nil {
		if err := addJSON("search_queries", *u.SearchQueries); err != nil {
			return nil, nil, err
		}
	}
	if u.FoundSources != nil {
		if err := addJSON("found_sources", *u.FoundSources); err != nil {
			return nil, nil, err
		}
	}
	if u.Analyses != nil {
		if err := addJSON("analyses", *u.Analyses); err != nil {
			return nil, nil, err
		}
	}
	if u.KnowledgeGaps != nil {
		if err := addJSON("knowledge_gaps", *u.KnowledgeGaps); err != nil {
			return nil, nil, err
		}
	}
	if u.Sources != nil {
		if err := addJSON("sources", *u.Sources); err != nil {
			return nil, nil, err
		}
	}
	if u.Title != nil {
		add("title", *u.Title)
	}
	if u.Excerpt != nil {
		add("excerpt", *u.Excerpt)
	}
	if u.Content != nil {
		add("content", *u.Content)
	}
	if u.CoverImage != nil {
		add("cover_image", *u.CoverImage)
	}
	if u.ErrorMessage != nil {
		add("error_message", *u.ErrorMessage)
	}
	if u.CompletedAt != nil {
		add("completed_at", *u.CompletedAt)
	}

	return cols, args, nil
}
