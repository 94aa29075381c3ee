package auth

import "strings"

// Action - привилегированная операция, требующая проверки политики.
type Action string

const (
	ActionAdminRetry      Action = "payments.admin_retry"
	ActionDeadLetterRead  Action = "dead_letters.read"
	ActionFulfillmentEdit Action = "orders.fulfillment_edit"
	ActionOrderRead       Action = "orders.read_any"
	ActionOrderDelete     Action = "orders.delete"
	ActionPaymentReminder Action = "payments.reminder"
	ActionTimelineRead    Action = "orders.timeline_read"
)

// Policy решает, может ли личность выполнить действие.
type Policy interface {
	Allow(p Principal, action Action) bool
}

// AllowListPolicy разрешает все административные действия настроенному списку UID.
type AllowListPolicy struct {
	admins map[string]struct{}
}

// NewAllowListPolicy создаёт политику из списка UID администраторов.
func NewAllowListPolicy(adminUIDs []string) *AllowListPolicy {
	admins := make(map[string]struct{}, len(adminUIDs))
	for _, uid := range adminUIDs {
		uid = strings.TrimSpace(uid)
		if uid != "" {
			admins[uid] = struct{}{}
		}
	}
	return &AllowListPolicy{admins: admins}
}

// Allow разрешает действие, если UID входит в список администраторов.
func (p *AllowListPolicy) Allow(principal Principal, _ Action) bool {
	if p == nil || !principal.Authenticated() {
		return false
	}
	_, ok := p.admins[principal.UID]
	return ok
}

// IsAdmin - сокращение для проверок вида «владелец или администратор».
func IsAdmin(policy Policy, principal Principal) bool {
	return policy != nil && policy.Allow(principal, ActionOrderRead)
}

// ParseList разбирает список через запятую, пропуская пустые элементы.
func ParseList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

var _ Policy = (*AllowListPolicy)(nil)
