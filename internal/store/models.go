package store

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

const (
	TypeIncome   = "income"
	TypeExpenses = "expenses"
	TypeTransfer = "transfer"
)

type User struct {
	ID           string     `json:"id"`
	Email        string     `json:"email"`
	Name         string     `json:"name"`
	PasswordHash string     `json:"-"`
	LogoURL      string     `json:"logoUrl"`
	Projects     StringList `json:"projects"`
	Tasks        StringList `json:"tasks"`
	Transactions StringList `json:"transactions"`
	CreatedAt    time.Time  `json:"createdAt"`
}

type Project struct {
	ID            string      `json:"id"`
	ProjectName   string      `json:"projectName"`
	Description   string      `json:"description"`
	LogoURL       string      `json:"logoUrl"`
	Creator       string      `json:"creator"`
	ParentProject *string     `json:"parentProject,omitempty"`
	SubProjects   StringList  `json:"subProjects"`
	SharedWith    StringList  `json:"sharedWith"`
	Invitations   Invitations `json:"invitations"`
	Files         Files       `json:"files"`
	Tasks         StringList  `json:"tasks"`
	Transactions  StringList  `json:"transactions"`
	Comments      StringList  `json:"comments"`
	Classifiers   Classifiers `json:"classifiers"`
	CreatedAt     time.Time   `json:"createdAt"`
	UpdatedAt     time.Time   `json:"updatedAt"`
}

func (p Project) Parent() string {
	if p.ParentProject == nil {
		return ""
	}
	return *p.ParentProject
}

type Invitation struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

type File struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	URL    string `json:"url"`
	Width  *int   `json:"width,omitempty"`
	Height *int   `json:"height,omitempty"`
}

type Classifiers struct {
	Income   []string `json:"income"`
	Expenses []string `json:"expenses"`
	Transfer []string `json:"transfer"`
}

func DefaultClassifiers() Classifiers {
	return Classifiers{
		Income:   []string{"Salary"},
		Expenses: []string{"Food", "Transport", "Housing"},
		Transfer: []string{},
	}
}

func ValidType(kind string) bool {
	return kind == TypeIncome || kind == TypeExpenses || kind == TypeTransfer
}

func (c Classifiers) Get(kind string) []string {
	switch kind {
	case TypeIncome:
		return c.Income
	case TypeExpenses:
		return c.Expenses
	case TypeTransfer:
		return c.Transfer
	default:
		return nil
	}
}

func (c *Classifiers) Set(kind string, labels []string) {
	if labels == nil {
		labels = []string{}
	}
	switch kind {
	case TypeIncome:
		c.Income = labels
	case TypeExpenses:
		c.Expenses = labels
	case TypeTransfer:
		c.Transfer = labels
	}
}

func (c Classifiers) Has(kind, label string) bool {
	for _, item := range c.Get(kind) {
		if item == label {
			return true
		}
	}
	return false
}

type Member struct {
	ID        string    `json:"id"`
	ProjectID string    `json:"projectId"`
	UserID    string    `json:"userId"`
	Role      string    `json:"role"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"createdAt"`
}

type MemberView struct {
	UserID string `json:"userId"`
	Name   string `json:"name"`
	Email  string `json:"email"`
	Role   string `json:"role"`
	Status string `json:"status"`
}

type Action struct {
	ID          string    `json:"id"`
	Description string    `json:"description"`
	Timestamp   time.Time `json:"timestamp"`
	UserID      string    `json:"userId"`
	UserName    string    `json:"userName"`
	UserLogo    string    `json:"userLogo"`
	Field       string    `json:"field"`
	OldValue    string    `json:"oldValue"`
	NewValue    string    `json:"newValue"`
}

// EmbeddedComment lives inside a task or transaction document.
type EmbeddedComment struct {
	ID         string    `json:"id"`
	UserID     string    `json:"userId"`
	AuthorName string    `json:"authorName"`
	Text       string    `json:"text"`
	Mentions   []string  `json:"mentions"`
	ParentID   string    `json:"parentId,omitempty"`
	Files      Files     `json:"files"`
	Timestamp  time.Time `json:"timestamp"`
}

type Task struct {
	ID          string    `json:"id"`
	ProjectID   string    `json:"projectId"`
	UserID      string    `json:"userId"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Status      string    `json:"status"`
	Timestamp   time.Time `json:"timestamp"`
	Files       Files     `json:"files"`
	Actions     Actions   `json:"actions"`
	Comments    Comments  `json:"comments"`
	Version     int       `json:"version"`
}

type Transaction struct {
	ID          string          `json:"id"`
	ProjectID   string          `json:"projectId"`
	UserID      string          `json:"userId"`
	Description string          `json:"description"`
	Sum         decimal.Decimal `json:"sum"`
	Classifier  string          `json:"classifier"`
	Type        string          `json:"type"`
	Timestamp   time.Time       `json:"timestamp"`
	Classifiers Classifiers     `json:"classifiers"`
	Files       Files           `json:"files"`
	Comments    Comments        `json:"comments"`
	Version     int             `json:"version"`
}

// Comment is a project-level comment stored in its own table.
type Comment struct {
	ID         string     `json:"id"`
	ProjectID  string     `json:"projectId"`
	UserID     string     `json:"userId"`
	AuthorName string     `json:"authorName"`
	Text       string     `json:"text"`
	Mentions   StringList `json:"mentions"`
	ParentID   string     `json:"parentId,omitempty"`
	Files      Files      `json:"files"`
	CreatedAt  time.Time  `json:"timestamp"`
}

type StringList []string

func (l *StringList) Scan(src any) error { return scanJSON(src, l) }

func (l StringList) Value() (driver.Value, error) {
	if l == nil {
		return "[]", nil
	}
	return valueJSON([]string(l))
}

func (l StringList) Contains(id string) bool {
	for _, item := range l {
		if item == id {
			return true
		}
	}
	return false
}

// Without returns a copy of the list with every occurrence of id removed.
func (l StringList) Without(id string) StringList {
	out := make(StringList, 0, len(l))
	for _, item := range l {
		if item != id {
			out = append(out, item)
		}
	}
	return out
}

type Files []File

func (f *Files) Scan(src any) error { return scanJSON(src, f) }

func (f Files) Value() (driver.Value, error) {
	if f == nil {
		return "[]", nil
	}
	return valueJSON([]File(f))
}

type Invitations []Invitation

func (i *Invitations) Scan(src any) error { return scanJSON(src, i) }

func (i Invitations) Value() (driver.Value, error) {
	if i == nil {
		return "[]", nil
	}
	return valueJSON([]Invitation(i))
}

type Actions []Action

func (a *Actions) Scan(src any) error { return scanJSON(src, a) }

func (a Actions) Value() (driver.Value, error) {
	if a == nil {
		return "[]", nil
	}
	return valueJSON([]Action(a))
}

type Comments []EmbeddedComment

func (c *Comments) Scan(src any) error { return scanJSON(src, c) }

func (c Comments) Value() (driver.Value, error) {
	if c == nil {
		return "[]", nil
	}
	return valueJSON([]EmbeddedComment(c))
}

func (c *Classifiers) Scan(src any) error {
	if err := scanJSON(src, c); err != nil {
		return err
	}
	c.Set(TypeIncome, c.Income)
	c.Set(TypeExpenses, c.Expenses)
	c.Set(TypeTransfer, c.Transfer)
	return nil
}

func (c Classifiers) Value() (driver.Value, error) {
	c.Set(TypeIncome, c.Income)
	c.Set(TypeExpenses, c.Expenses)
	c.Set(TypeTransfer, c.Transfer)
	return valueJSON(c)
}

func scanJSON(src any, target any) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		return nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("scan json: unsupported source %T", src)
	}
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, target); err != nil {
		return fmt.Errorf("scan json: %w", err)
	}
	return nil
}

func valueJSON(v any) (driver.Value, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode json: %w", err)
	}
	return string(raw), nil
}
