package models

// Space is a direct child collection of a user's root collection.
type Space struct {
	ID    string `json:"id" yaml:"id"`
	Title string `json:"title" yaml:"title"`
}

// Link is an upstream item inside a user's root subtree.
type Link struct {
	ID        string `json:"id" yaml:"id"`
	URL       string `json:"url" yaml:"url"`
	Title     string `json:"title,omitempty" yaml:"title,omitempty"`
	Excerpt   string `json:"excerpt,omitempty" yaml:"excerpt,omitempty"`
	CreatedAt string `json:"createdAt,omitempty" yaml:"created_at,omitempty"`
	SpaceID   string `json:"spaceId" yaml:"space_id"`
}

// LinkPage is one page of a space's links. NextCursor is set only when
// the page was full.
type LinkPage struct {
	Links      []Link  `json:"links" yaml:"links"`
	NextCursor *string `json:"nextCursor,omitempty" yaml:"next_cursor,omitempty"`
}

// UserView is the public projection of a user.
type UserView struct {
	ID          string `json:"id" yaml:"id"`
	DisplayName string `json:"displayName,omitempty" yaml:"display_name,omitempty"`
}

// View projects u for API responses.
func (u *User) View() UserView {
	return UserView{ID: u.ID, DisplayName: u.DisplayName}
}
