package tools

import (
	"fmt"

	"github.com/harun/panbeh/pkg/panel"
)

// CardType names a result the dashboard renders as a card instead of prose.
type CardType string

const (
	CardStatus     CardType = "status_card"
	CardConnection CardType = "connection_card"
	CardPing       CardType = "ping_card"
	CardServerList CardType = "server_list_card"
	CardReward     CardType = "reward_card"
)

// UnknownFunctionDetail is the detail of a dispatch to a name outside the toolset.
const UnknownFunctionDetail = "Unknown function"

// Result is the outcome of one dispatch. Summary is always set.
type Result struct {
	OK      bool        `json:"ok"`
	Type    CardType    `json:"type,omitempty"`
	Payload interface{} `json:"payload,omitempty"`
	Summary string      `json:"summary"`
	Detail  string      `json:"detail,omitempty"`
}

// Renderable reports whether the result should be shown as a card.
func (r Result) Renderable() bool {
	return r.OK && r.Type != ""
}

// Succeed builds a plain successful result.
func Succeed(summary string, payload interface{}) Result {
	return Result{OK: true, Payload: payload, Summary: summary}
}

// Card builds a successful structured result.
func Card(typ CardType, payload interface{}, summary string) Result {
	return Result{OK: true, Type: typ, Payload: payload, Summary: summary}
}

// Fail builds a failed result.
func Fail(detail, summary string) Result {
	return Result{OK: false, Detail: detail, Summary: summary}
}

// FailFromError maps a panel error onto a failed result. Upstream rejections
// are shown verbatim; auth and transport failures fall back to summary.
func FailFromError(err error, fallback string) Result {
	if upstream, ok := panel.AsUpstream(err); ok {
		if upstream.Detail != "" {
			return Fail(upstream.Detail, upstream.Detail)
		}
		return Fail(upstream.Error(), fallback)
	}
	return Fail(err.Error(), fallback)
}

func genericFailure(name string) string {
	return fmt.Sprintf("متاسفانه خطایی در اجرای ابزار %s رخ داد.", name)
}
