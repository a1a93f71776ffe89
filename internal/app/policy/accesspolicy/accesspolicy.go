// internal/app/policy/accesspolicy/accesspolicy.go
package accesspolicy

import (
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"gopkg.in/yaml.v3"
)

// Group maps a named course group to the Telegram chats it unlocks and
// the GetCourse groups whose membership unlocks them.
type Group struct {
	ChatIDs    []int64 `yaml:"chat_ids"`
	GCGroupIDs []int64 `yaml:"gc_group_ids"`
}

// Messages holds the user-facing texts the bot sends. Operators edit
// these in the policy file; code only picks which one to send.
type Messages struct {
	Greeting  string `yaml:"greeting"`
	Retry     string `yaml:"retry"`
	Approved  string `yaml:"approved"`
	Denied    string `yaml:"denied"`
	Duplicate string `yaml:"duplicate"`
	Revoked   string `yaml:"revoked"`
}

// Policy is an immutable snapshot of the operator-editable configuration:
// the group-to-chat mapping, admin identities, message texts, and the
// daily schedule. A snapshot is never mutated after Load; reload builds a
// new one and swaps it in, so in-flight operations finish on the old one.
type Policy struct {
	Groups   map[string]Group `yaml:"groups"`
	AdminIDs []int64          `yaml:"admin_ids"`
	Messages Messages         `yaml:"messages"`

	// Daily reconciliation time (hour:minute).
	CheckHour   int `yaml:"check_hour"`
	CheckMinute int `yaml:"check_minute"`

	// Base delivery time for revocation notices, "HH:MM".
	SendTime string `yaml:"send_time"`

	sendHour, sendMinute int
}

var defaultMessages = Messages{
	Greeting:  "Please send the email you registered with GetCourse so we can verify your access.",
	Retry:     "That email does not grant access to this chat. Try again with a different email.",
	Approved:  "Access confirmed! You have been added to the chat. Welcome!",
	Denied:    "Unfortunately, your email does not provide access to this chat. Check the email or contact support.",
	Duplicate: "This email is already registered in one of our chats. Each email can only be used once.",
	Revoked:   "Your access to the chat has expired. Contact support if you believe this is a mistake.",
}

// Load parses and validates a policy file into an immutable snapshot.
func Load(path string) (*Policy, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read policy file: %w", err)
	}

	p := Policy{Messages: defaultMessages}
	if err := yaml.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("parse policy file: %w", err)
	}
	if err := p.validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

func (p *Policy) validate() error {
	if p.CheckHour < 0 || p.CheckHour > 23 {
		return fmt.Errorf("check_hour %d out of range", p.CheckHour)
	}
	if p.CheckMinute < 0 || p.CheckMinute > 59 {
		return fmt.Errorf("check_minute %d out of range", p.CheckMinute)
	}
	if p.SendTime == "" {
		p.SendTime = "09:00"
	}
	t, err := time.Parse("15:04", p.SendTime)
	if err != nil {
		return fmt.Errorf("send_time %q: want HH:MM: %w", p.SendTime, err)
	}
	p.sendHour, p.sendMinute = t.Hour(), t.Minute()

	for name, g := range p.Groups {
		if len(g.ChatIDs) == 0 {
			return fmt.Errorf("group %q has no chat_ids", name)
		}
		if len(g.GCGroupIDs) == 0 {
			return fmt.Errorf("group %q has no gc_group_ids", name)
		}
	}
	return nil
}

// AllowedGroupIDs returns the GetCourse group ids that admit a user to
// chatID, and whether the chat is governed by this policy at all.
func (p *Policy) AllowedGroupIDs(chatID int64) ([]int64, bool) {
	for _, g := range p.Groups {
		for _, id := range g.ChatIDs {
			if id == chatID {
				return g.GCGroupIDs, true
			}
		}
	}
	return nil, false
}

// IsAdmin reports whether userID may run privileged commands.
func (p *Policy) IsAdmin(userID int64) bool {
	for _, id := range p.AdminIDs {
		if id == userID {
			return true
		}
	}
	return false
}

// SendBase returns the notification base time on the given day.
func (p *Policy) SendBase(day time.Time) time.Time {
	return time.Date(day.Year(), day.Month(), day.Day(), p.sendHour, p.sendMinute, 0, 0, day.Location())
}

// CronSpec returns the daily reconciliation schedule in cron form.
func (p *Policy) CronSpec() string {
	return fmt.Sprintf("%d %d * * *", p.CheckMinute, p.CheckHour)
}

// Provider hands out the current policy snapshot and swaps in new ones.
type Provider struct {
	path string
	cur  atomic.Pointer[Policy]
}

// NewProvider loads the initial snapshot from path. A load failure here
// is fatal to startup; later Reload failures leave the old snapshot live.
func NewProvider(path string) (*Provider, error) {
	p, err := Load(path)
	if err != nil {
		return nil, err
	}
	prov := &Provider{path: path}
	prov.cur.Store(p)
	return prov, nil
}

// Current returns the live snapshot.
func (pr *Provider) Current() *Policy {
	return pr.cur.Load()
}

// Reload loads a fresh snapshot from disk and swaps it in atomically.
// On error the previous snapshot stays in effect.
func (pr *Provider) Reload() (*Policy, error) {
	p, err := Load(pr.path)
	if err != nil {
		return nil, err
	}
	pr.cur.Store(p)
	return p, nil
}
