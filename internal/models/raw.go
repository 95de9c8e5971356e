package models

import (
	"encoding/json"
	"fmt"
)

type rawProjectItems struct {
	ProjectItems *struct {
		Nodes []struct {
			Project struct {
				Title string `json:"title"`
			} `json:"project"`
		} `json:"nodes"`
	} `json:"projectItems"`
}

// RawProjectTitles lists the projects an issue belongs to according to its
// raw upstream payload. ok is false when the payload carries no project
// membership at all, which is different from belonging to no project.
func RawProjectTitles(raw json.RawMessage) (titles []string, ok bool, err error) {
	if len(raw) == 0 {
		return nil, false, nil
	}
	var p rawProjectItems
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, false, fmt.Errorf("failed to parse raw payload: %w", err)
	}
	if p.ProjectItems == nil {
		return nil, false, nil
	}
	for _, n := range p.ProjectItems.Nodes {
		titles = append(titles, n.Project.Title)
	}
	return titles, true, nil
}
