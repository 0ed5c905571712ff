package raindrop

import (
	"fmt"
	"strings"

	apperrors "github.com/alexjbarnes/linkstash/internal/errors"
	"github.com/tidwall/gjson"
)

// User is the normalized Raindrop account.
type User struct {
	ID          string
	DisplayName string
}

// Collection is a normalized Raindrop collection. ParentID is empty for
// top-level collections.
type Collection struct {
	ID       string
	Title    string
	ParentID string
}

// Item is a normalized Raindrop bookmark. Fields the payload did not carry
// are left empty; they are never fabricated.
type Item struct {
	ID           string
	Link         string
	Title        string
	Excerpt      string
	Created      string
	CollectionID string
}

// Id and parent fields arrive in several shapes depending on the endpoint
// and API generation. The first path that resolves to a primitive wins.
var (
	idPaths         = []string{"_id", "$id"}
	parentPaths     = []string{"parent.$id", `parent\.$id`, "parent"}
	collectionPaths = []string{"collection.$id", "collection", `collection\.$id`, "collectionId"}
	userNamePaths   = []string{"fullName", "name", "login", "email"}
)

func parseBody(endpoint string, body []byte) (gjson.Result, error) {
	if !gjson.ValidBytes(body) {
		return gjson.Result{}, apperrors.Upstream(fmt.Sprintf("raindrop %s response could not be parsed", endpoint), nil)
	}

	return gjson.ParseBytes(body), nil
}

// singlePayload unwraps {"item": {...}} envelopes, falling back to the
// bare body.
func singlePayload(root gjson.Result) gjson.Result {
	if item := root.Get("item"); item.IsObject() {
		return item
	}

	return root
}

// listPayload returns the entries of "items", which may be an array or an
// object keyed by id. Non-object entries are dropped.
func listPayload(root gjson.Result) []gjson.Result {
	items := root.Get("items")

	var out []gjson.Result

	items.ForEach(func(_, v gjson.Result) bool {
		if v.IsObject() {
			out = append(out, v)
		}

		return true
	})

	return out
}

func firstPrimitive(r gjson.Result, paths []string) string {
	for _, p := range paths {
		v := r.Get(p)
		if v.Type != gjson.Number && v.Type != gjson.String {
			continue
		}

		if s := strings.TrimSpace(v.String()); s != "" {
			return s
		}
	}

	return ""
}

func decodeUser(endpoint string, body []byte) (*User, error) {
	root, err := parseBody(endpoint, body)
	if err != nil {
		return nil, err
	}

	payload := root
	if u := root.Get("user"); u.IsObject() {
		payload = u
	}

	id := firstPrimitive(payload, idPaths)
	if id == "" {
		return nil, apperrors.Upstream("raindrop user payload is missing id", nil)
	}

	var name string

	for _, p := range userNamePaths {
		if v := strings.TrimSpace(payload.Get(p).String()); v != "" {
			name = v
			break
		}
	}

	return &User{ID: id, DisplayName: name}, nil
}

func collectionFrom(r gjson.Result) Collection {
	return Collection{
		ID:       firstPrimitive(r, idPaths),
		Title:    strings.TrimSpace(r.Get("title").String()),
		ParentID: firstPrimitive(r, parentPaths),
	}
}

func itemFrom(r gjson.Result) Item {
	return Item{
		ID:           firstPrimitive(r, idPaths),
		Link:         strings.TrimSpace(r.Get("link").String()),
		Title:        strings.TrimSpace(r.Get("title").String()),
		Excerpt:      strings.TrimSpace(r.Get("excerpt").String()),
		Created:      r.Get("created").String(),
		CollectionID: firstPrimitive(r, collectionPaths),
	}
}

func decodeCollection(endpoint string, body []byte) (*Collection, error) {
	root, err := parseBody(endpoint, body)
	if err != nil {
		return nil, err
	}

	payload := singlePayload(root)
	if !payload.IsObject() {
		return nil, apperrors.Upstream(fmt.Sprintf("raindrop %s response has no collection", endpoint), nil)
	}

	c := collectionFrom(payload)

	return &c, nil
}

func decodeCollections(endpoint string, body []byte) ([]Collection, error) {
	root, err := parseBody(endpoint, body)
	if err != nil {
		return nil, err
	}

	entries := listPayload(root)
	out := make([]Collection, 0, len(entries))

	for _, e := range entries {
		out = append(out, collectionFrom(e))
	}

	return out, nil
}

func decodeItem(endpoint string, body []byte) (*Item, error) {
	root, err := parseBody(endpoint, body)
	if err != nil {
		return nil, err
	}

	payload := singlePayload(root)
	if !payload.IsObject() {
		return nil, apperrors.Upstream(fmt.Sprintf("raindrop %s response has no item", endpoint), nil)
	}

	it := itemFrom(payload)

	return &it, nil
}

func decodeItems(endpoint string, body []byte) ([]Item, error) {
	root, err := parseBody(endpoint, body)
	if err != nil {
		return nil, err
	}

	entries := listPayload(root)
	out := make([]Item, 0, len(entries))

	for _, e := range entries {
		out = append(out, itemFrom(e))
	}

	return out, nil
}
