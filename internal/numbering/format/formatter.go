// Package format renders document numbers from a tenant's number template.
//
// The grammar is fixed: literal text plus the tokens {PREFIX}, {YEAR}, {YY},
// {MONTH} and {NUMBER}. Anything else between braces, or an unbalanced
// brace, is rejected. No general templating is involved.
package format

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
)

const (
	TokenPrefix = "PREFIX"
	TokenYear   = "YEAR"
	TokenYY     = "YY"
	TokenMonth  = "MONTH"
	TokenNumber = "NUMBER"
)

const DefaultTemplate = "{PREFIX}-{YEAR}-{NUMBER}"

var ErrInvalidTemplate = errors.New("invalid number template")

type segment struct {
	literal string
	token   string
}

// Validate checks that template parses and contains a {NUMBER} token.
func Validate(template string) error {
	segments, err := parse(template)
	if err != nil {
		return err
	}
	for _, seg := range segments {
		if seg.token == TokenNumber {
			return nil
		}
	}
	return errors.Wrap(ErrInvalidTemplate, "template must contain {NUMBER}")
}

// Format renders template for the given prefix, allocation time and sequence,
// zero-padding the sequence to padding digits.
func Format(template, prefix string, at time.Time, seq int64, padding int) (string, error) {
	if seq <= 0 {
		return "", fmt.Errorf("invalid sequence: %d", seq)
	}
	if padding < 0 {
		padding = 0
	}
	segments, err := parse(template)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	for _, seg := range segments {
		switch seg.token {
		case "":
			b.WriteString(seg.literal)
		case TokenPrefix:
			b.WriteString(prefix)
		case TokenYear:
			b.WriteString(at.Format("2006"))
		case TokenYY:
			b.WriteString(at.Format("06"))
		case TokenMonth:
			b.WriteString(at.Format("01"))
		case TokenNumber:
			digits := strconv.FormatInt(seq, 10)
			if pad := padding - len(digits); pad > 0 {
				b.WriteString(strings.Repeat("0", pad))
			}
			b.WriteString(digits)
		}
	}
	return b.String(), nil
}

func parse(template string) ([]segment, error) {
	if strings.TrimSpace(template) == "" {
		return nil, errors.Wrap(ErrInvalidTemplate, "template is empty")
	}

	var (
		segments []segment
		literal  strings.Builder
	)
	for i := 0; i < len(template); i++ {
		ch := template[i]
		switch ch {
		case '{':
			end := strings.IndexByte(template[i+1:], '}')
			if end < 0 {
				return nil, errors.Wrapf(ErrInvalidTemplate, "unclosed brace at %d", i)
			}
			name := template[i+1 : i+1+end]
			if !knownToken(name) {
				return nil, errors.Wrapf(ErrInvalidTemplate, "unknown token {%s}", name)
			}
			if literal.Len() > 0 {
				segments = append(segments, segment{literal: literal.String()})
				literal.Reset()
			}
			segments = append(segments, segment{token: name})
			i += end + 1
		case '}':
			return nil, errors.Wrapf(ErrInvalidTemplate, "unexpected } at %d", i)
		default:
			literal.WriteByte(ch)
		}
	}
	if literal.Len() > 0 {
		segments = append(segments, segment{literal: literal.String()})
	}
	return segments, nil
}

func knownToken(name string) bool {
	switch name {
	case TokenPrefix, TokenYear, TokenYY, TokenMonth, TokenNumber:
		return true
	default:
		return false
	}
}
