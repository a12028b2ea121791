package model

// Credentials is everything a transport session needs to authenticate
type Credentials struct {
	Host        string
	Port        int
	Address     string
	Password    string `json:"-"`
	DisplayName string
}

// Sender is the public view of a configured sender account
type Sender struct {
	Email string `json:"email"`
	Name  string `json:"name"`
}
