package entity

import (
	"github.com/h0rv/jex/internal/domain"
	"github.com/h0rv/jex/internal/schema"
	"github.com/h0rv/jex/internal/store"
)

// CollectLinks walks the link columns of every row. A value X in an inward
// column of issue Y yields X→Y; in an outward column it yields Y→X.
// The row side uses the issue id when the value is numeric, else the key.
func CollectLinks(cols []schema.Column, rows [][]schema.Cell) []domain.Link {
	keyIdx, idIdx := -1, -1
	for _, c := range cols {
		switch c.Kind {
		case schema.KindIssueKey:
			keyIdx = c.Index
		case schema.KindIssueID:
			idIdx = c.Index
		}
	}

	var links []domain.Link
	for _, row := range rows {
		for _, c := range cols {
			if c.Kind != schema.KindInwardLink && c.Kind != schema.KindOutwardLink {
				continue
			}
			cell := row[c.Index]
			if !cell.Valid || cell.Value == "" {
				continue
			}

			self := cellValue(row, keyIdx)
			if isNumeric(cell.Value) && cellValue(row, idIdx) != "" {
				self = cellValue(row, idIdx)
			}

			link := domain.Link{Name: c.LinkType, SourceID: self, DestinationID: cell.Value}
			if c.Kind == schema.KindInwardLink {
				link.SourceID, link.DestinationID = cell.Value, self
			}
			links = append(links, link)
		}
	}
	return links
}

// SubtaskLinks relates every built sub-task to its parent. The parent is
// looked up by numeric id, then by key; a parent outside the export yields
// a link with an empty source.
func SubtaskLinks(st *store.Store) []domain.Link {
	var links []domain.Link
	for _, issue := range st.GetAllIssues() {
		if issue.ParentID == "" {
			continue
		}
		link := domain.Link{Name: domain.SubtaskLinkName, DestinationID: issue.Key}
		if parent, err := st.GetIssueByExternalID(issue.ParentID); err == nil {
			link.SourceID = parent.Key
		} else if parent, err := st.GetIssue(issue.ParentID); err == nil {
			link.SourceID = parent.Key
		}
		links = append(links, link)
	}
	return links
}

func cellValue(row []schema.Cell, idx int) string {
	if idx < 0 || idx >= len(row) {
		return ""
	}
	return row[idx].Value
}

func isNumeric(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
