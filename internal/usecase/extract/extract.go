// Package extract pulls sign-in codes and verification links out of mail bodies.
//
// Each fetch kind maps to an ordered list of strategies; the first one that
// yields a value wins.
package extract

import (
	"fmt"
	"regexp"
	"strings"

	"telegram-stream-access/internal/domain/model"
	"telegram-stream-access/internal/domain/ports/adapter"
)

// Rule describes what qualifies as an artifact for one fetch kind.
type Rule struct {
	Kind        model.FetchKind
	CodeDigits  int      // > 0 selects code extraction
	LinkPrefix  string   // required for link extraction
	AnchorAllow []string // anchor texts accepted for the link; empty accepts any
}

// Strategy is one way of finding an artifact in a message.
type Strategy interface {
	Name() string
	Extract(msg *adapter.MailMessage) (string, bool)
}

// Extractor runs strategies in order.
type Extractor struct {
	kind       model.FetchKind
	typ        model.ArtifactType
	strategies []Strategy
}

// New builds the strategy chain for r.
func New(r Rule) (*Extractor, error) {
	switch {
	case r.CodeDigits > 0:
		re, err := regexp.Compile(fmt.Sprintf(`\b\d{%d}\b`, r.CodeDigits))
		if err != nil {
			return nil, err
		}
		return &Extractor{
			kind: r.Kind,
			typ:  model.ArtifactCode,
			strategies: []Strategy{
				plainCode{re: re},
				renderedCode{re: re},
			},
		}, nil
	case r.LinkPrefix != "":
		allow := make([]string, 0, len(r.AnchorAllow))
		for _, a := range r.AnchorAllow {
			if a = normalizeSpace(a); a != "" {
				allow = append(allow, strings.ToLower(a))
			}
		}
		return &Extractor{
			kind: r.Kind,
			typ:  model.ArtifactLink,
			strategies: []Strategy{
				anchorLink{prefix: r.LinkPrefix, allow: allow},
				rawLink{prefix: r.LinkPrefix},
			},
		}, nil
	default:
		return nil, fmt.Errorf("extract rule for %q needs code digits or a link prefix", r.Kind)
	}
}

func (e *Extractor) Kind() model.FetchKind { return e.kind }

// Extract returns a zero Artifact when no strategy matches.
func (e *Extractor) Extract(msg *adapter.MailMessage) model.Artifact {
	if msg == nil {
		return model.Artifact{}
	}
	for _, s := range e.strategies {
		if v, ok := s.Extract(msg); ok {
			return model.Artifact{
				Type:       e.typ,
				Value:      v,
				Subject:    msg.Subject,
				ReceivedAt: msg.ReceivedAt,
			}
		}
	}
	return model.Artifact{}
}

// StrategyNames lists the chain, for logs.
func (e *Extractor) StrategyNames() []string {
	out := make([]string, len(e.strategies))
	for i, s := range e.strategies {
		out[i] = s.Name()
	}
	return out
}

func normalizeSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
