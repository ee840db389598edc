package models

type Role string

const (
	AdminRole     Role = "admin"
	ManagerRole   Role = "manager"
	DeveloperRole Role = "developer"
	QARole        Role = "qa_manager"
	ClientRole    Role = "client"
)

func (r Role) IsValid() bool {
	switch r {
	case AdminRole, ManagerRole, DeveloperRole, QARole, ClientRole:
		return true
	}
	return false
}

// Actor is an already-authenticated caller.
type Actor struct {
	ID   string `json:"id" yaml:"id"`
	Role Role   `json:"role" yaml:"role"`
}
