package domain

import "time"

type Author string

const (
	AuthorAgent Author = "agent"
	AuthorUser  Author = "user"
)

// Message is one entry of the append-only chat archive.
type Message struct {
	ID        string    `json:"id"`
	Author    Author    `json:"author"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

type JobStatus string

const (
	JobNotStarted JobStatus = "not_started"
	JobInProgress JobStatus = "in_progress"
)

// JobPosting is an opening submitted through the job endpoint.
type JobPosting struct {
	ID                 string    `bson:"-" json:"id"`
	CompanyName        string    `bson:"company_name" json:"companyName"`
	CompanyDescription string    `bson:"company_description" json:"companyDescription"`
	JobDescription     string    `bson:"job_description" json:"jobDescription"`
	ContactLink        string    `bson:"contact_link" json:"calComLink"`
	ContactEmail       string    `bson:"contact_email" json:"contactEmail"`
	Status             JobStatus `bson:"status" json:"status"`
	CreatedAt          time.Time `bson:"created_at" json:"created_at"`
}

// ReferralCode is a one-time admission code owned by an existing member.
type ReferralCode struct {
	Code      string     `bson:"code" json:"code"`
	OwnerID   string     `bson:"owner_id,omitempty" json:"owner_id,omitempty"`
	Used      bool       `bson:"used" json:"used"`
	Permanent bool       `bson:"permanent,omitempty" json:"permanent,omitempty"`
	CreatedAt time.Time  `bson:"created_at" json:"created_at"`
	UsedAt    *time.Time `bson:"used_at,omitempty" json:"used_at,omitempty"`
}

// AgentTurns counts messages authored by the agent.
func AgentTurns(history []Message) int {
	n := 0
	for _, m := range history {
		if m.Author == AuthorAgent {
			n++
		}
	}
	return n
}

// UserMessagesSince returns user messages strictly after t (all of them when t is nil).
func UserMessagesSince(history []Message, t *time.Time) []Message {
	var out []Message
	for _, m := range history {
		if m.Author != AuthorUser {
			continue
		}
		if t != nil && !m.Timestamp.After(*t) {
			continue
		}
		out = append(out, m)
	}
	return out
}
