package tree

import (
	"strings"

	"github.com/h0rv/jex/internal/domain"
)

// parseComment reads "created;author;body[;isInternal]". The body may itself
// contain semicolons. A cell without the prefix is kept whole as the body.
func parseComment(cell string) domain.Comment {
	parts := strings.SplitN(cell, ";", 3)
	if len(parts) < 3 {
		return domain.Comment{Body: cell}
	}
	c := domain.Comment{Created: parts[0], Author: parts[1], Body: parts[2]}
	switch {
	case strings.HasSuffix(c.Body, ";true"):
		c.Body = strings.TrimSuffix(c.Body, ";true")
		c.IsInternal = true
	case strings.HasSuffix(c.Body, ";false"):
		c.Body = strings.TrimSuffix(c.Body, ";false")
	}
	return c
}

// parseAttachment reads "created;author;name;uri". The URI starts at the
// semicolon before its scheme, so both name and URI may contain semicolons.
func parseAttachment(cell string) domain.Attachment {
	parts := strings.SplitN(cell, ";", 3)
	if len(parts) < 3 {
		return domain.Attachment{URI: cell}
	}
	a := domain.Attachment{Created: parts[0], Attacher: parts[1], Name: parts[2]}
	rest := parts[2]
	sep := strings.LastIndexByte(rest, ';')
	if scheme := strings.LastIndex(rest, "://"); scheme >= 0 {
		sep = strings.LastIndexByte(rest[:scheme], ';')
	}
	if sep >= 0 {
		a.Name, a.URI = rest[:sep], rest[sep+1:]
	}
	return a
}

// parseWorklog reads "comment;started;author;seconds" from the right, so the
// comment may contain semicolons. The time spent is left in seconds.
func parseWorklog(cell string) domain.Worklog {
	fields := make([]string, 0, 3)
	rest := cell
	for len(fields) < 3 {
		i := strings.LastIndexByte(rest, ';')
		if i < 0 {
			break
		}
		fields = append(fields, rest[i+1:])
		rest = rest[:i]
	}
	if len(fields) < 3 {
		return domain.Worklog{Comment: cell}
	}
	return domain.Worklog{Comment: rest, StartDate: fields[2], Author: fields[1], TimeSpent: fields[0]}
}
