package entity

// User is the slice of a profile document the chat views need.
type User struct {
	ID          string `json:"id" firestore:"id"`
	DisplayName string `json:"display_name,omitempty" firestore:"displayName,omitempty"`
	Name        string `json:"name,omitempty" firestore:"name,omitempty"`
	Email       string `json:"email,omitempty" firestore:"email,omitempty"`
	PhotoURL    string `json:"photo_url,omitempty" firestore:"photoURL,omitempty"`
}

// Label is the name shown for the user in a chat header or inbox row.
func (u *User) Label() string {
	switch {
	case u.DisplayName != "":
		return u.DisplayName
	case u.Name != "":
		return u.Name
	case u.Email != "":
		return u.Email
	default:
		return "User"
	}
}
