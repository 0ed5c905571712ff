// Package mcpserver registers MCP tools that expose a user's LinkStash
// spaces and links. Each tool runs under the caller's upstream credential
// through the auth service's fresh-token policy.
package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/alexjbarnes/linkstash/internal/auth"
	apperrors "github.com/alexjbarnes/linkstash/internal/errors"
	"github.com/alexjbarnes/linkstash/internal/models"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// TokenRunner runs fn with a fresh upstream access token for userID.
type TokenRunner interface {
	WithFreshAccessToken(ctx context.Context, userID string, fn func(accessToken string) error) error
}

// Links is the spaces and links service.
type Links interface {
	ListSpaces(ctx context.Context, userID, accessToken string) ([]models.Space, error)
	DefaultSpaceID(ctx context.Context, userID, accessToken string) (string, error)
	CreateSpace(ctx context.Context, userID, accessToken, title string) (*models.Space, error)
	ListLinks(ctx context.Context, userID, accessToken, spaceID, cursor string) (*models.LinkPage, error)
	CreateLink(ctx context.Context, userID, accessToken, spaceID, url string) (*models.Link, error)
	MoveLink(ctx context.Context, userID, accessToken, linkID, targetSpaceID string) (*models.Link, error)
	DeleteLink(ctx context.Context, userID, accessToken, linkID string) error
}

// Handler serves MCP over streamable HTTP. It must sit behind the session
// middleware; each request gets a server bound to the authenticated user.
func Handler(runner TokenRunner, links Links, version string, logger *slog.Logger) http.Handler {
	return mcp.NewStreamableHTTPHandler(func(r *http.Request) *mcp.Server {
		userID := auth.RequestUserID(r.Context())
		if userID == "" {
			logger.Warn("mcp request without authenticated user", slog.String("path", r.URL.Path))
			return nil
		}

		return NewServer(runner, links, userID, version)
	}, &mcp.StreamableHTTPOptions{Stateless: true})
}

// NewServer creates an MCP server whose tools act as userID.
func NewServer(runner TokenRunner, links Links, userID, version string) *mcp.Server {
	server := mcp.NewServer(
		&mcp.Implementation{Name: "linkstash", Version: version},
		nil,
	)
	RegisterTools(server, runner, links, userID)

	return server
}

type tools struct {
	runner TokenRunner
	links  Links
	userID string
}

// RegisterTools adds all LinkStash tools to the given MCP server. Every
// tool acts as userID.
func RegisterTools(server *mcp.Server, runner TokenRunner, links Links, userID string) {
	t := &tools{runner: runner, links: links, userID: userID}

	mcp.AddTool(server, &mcp.Tool{
		Name:        "linkstash_list_spaces",
		Description: "List the user's LinkStash spaces sorted by title. Use the returned ids with the other tools.",
	}, listSpacesHandler(t))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "linkstash_create_space",
		Description: "Create a new space.",
	}, createSpaceHandler(t))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "linkstash_list_links",
		Description: "List links in a space, newest first, 50 per page. Pass next_cursor from a previous page to continue. Defaults to the user's default space.",
	}, listLinksHandler(t))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "linkstash_save_link",
		Description: "Save a URL into a space. Title and excerpt are extracted by Raindrop in the background. Defaults to the user's default space.",
	}, saveLinkHandler(t))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "linkstash_move_link",
		Description: "Move a link to another space.",
	}, moveLinkHandler(t))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "linkstash_delete_link",
		Description: "Delete a link.",
	}, deleteLinkHandler(t))
}

// --- Input types ---

// ListSpacesInput has no parameters.
type ListSpacesInput struct{}

// CreateSpaceInput holds parameters for linkstash_create_space.
type CreateSpaceInput struct {
	Title string `json:"title" jsonschema:"title of the new space"`
}

// ListLinksInput holds parameters for linkstash_list_links.
type ListLinksInput struct {
	SpaceID string `json:"space_id,omitempty" jsonschema:"space id, defaults to the default space"`
	Cursor  string `json:"cursor,omitempty" jsonschema:"next_cursor from the previous page"`
}

// SaveLinkInput holds parameters for linkstash_save_link.
type SaveLinkInput struct {
	URL     string `json:"url" jsonschema:"absolute URL to save"`
	SpaceID string `json:"space_id,omitempty" jsonschema:"space id, defaults to the default space"`
}

// MoveLinkInput holds parameters for linkstash_move_link.
type MoveLinkInput struct {
	LinkID  string `json:"link_id" jsonschema:"id of the link to move"`
	SpaceID string `json:"space_id" jsonschema:"id of the target space"`
}

// DeleteLinkInput holds parameters for linkstash_delete_link.
type DeleteLinkInput struct {
	LinkID string `json:"link_id" jsonschema:"id of the link to delete"`
}

// --- Output types ---

// SpacesResult is returned by linkstash_list_spaces.
type SpacesResult struct {
	Spaces []models.Space `json:"spaces"`
}

// DeleteResult is returned by linkstash_delete_link.
type DeleteResult struct {
	LinkID  string `json:"link_id"`
	Deleted bool   `json:"deleted"`
}

// --- Handlers ---

func listSpacesHandler(t *tools) mcp.ToolHandlerFor[ListSpacesInput, *SpacesResult] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, _ ListSpacesInput) (*mcp.CallToolResult, *SpacesResult, error) {
		result, err := run(ctx, t, func(token string) (*SpacesResult, error) {
			spaces, err := t.links.ListSpaces(ctx, t.userID, token)
			if err != nil {
				return nil, err
			}

			return &SpacesResult{Spaces: spaces}, nil
		})
		if err != nil {
			return nil, nil, err
		}

		return textResult(result), result, nil
	}
}

func createSpaceHandler(t *tools) mcp.ToolHandlerFor[CreateSpaceInput, *models.Space] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, input CreateSpaceInput) (*mcp.CallToolResult, *models.Space, error) {
		result, err := run(ctx, t, func(token string) (*models.Space, error) {
			return t.links.CreateSpace(ctx, t.userID, token, input.Title)
		})
		if err != nil {
			return nil, nil, err
		}

		return textResult(result), result, nil
	}
}

func listLinksHandler(t *tools) mcp.ToolHandlerFor[ListLinksInput, *models.LinkPage] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, input ListLinksInput) (*mcp.CallToolResult, *models.LinkPage, error) {
		result, err := run(ctx, t, func(token string) (*models.LinkPage, error) {
			spaceID, err := t.spaceOrDefault(ctx, token, input.SpaceID)
			if err != nil {
				return nil, err
			}

			return t.links.ListLinks(ctx, t.userID, token, spaceID, input.Cursor)
		})
		if err != nil {
			return nil, nil, err
		}

		return textResult(result), result, nil
	}
}

func saveLinkHandler(t *tools) mcp.ToolHandlerFor[SaveLinkInput, *models.Link] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, input SaveLinkInput) (*mcp.CallToolResult, *models.Link, error) {
		result, err := run(ctx, t, func(token string) (*models.Link, error) {
			spaceID, err := t.spaceOrDefault(ctx, token, input.SpaceID)
			if err != nil {
				return nil, err
			}

			return t.links.CreateLink(ctx, t.userID, token, spaceID, input.URL)
		})
		if err != nil {
			return nil, nil, err
		}

		return textResult(result), result, nil
	}
}

func moveLinkHandler(t *tools) mcp.ToolHandlerFor[MoveLinkInput, *models.Link] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, input MoveLinkInput) (*mcp.CallToolResult, *models.Link, error) {
		result, err := run(ctx, t, func(token string) (*models.Link, error) {
			return t.links.MoveLink(ctx, t.userID, token, input.LinkID, input.SpaceID)
		})
		if err != nil {
			return nil, nil, err
		}

		return textResult(result), result, nil
	}
}

func deleteLinkHandler(t *tools) mcp.ToolHandlerFor[DeleteLinkInput, *DeleteResult] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, input DeleteLinkInput) (*mcp.CallToolResult, *DeleteResult, error) {
		result, err := run(ctx, t, func(token string) (*DeleteResult, error) {
			if err := t.links.DeleteLink(ctx, t.userID, token, input.LinkID); err != nil {
				return nil, err
			}

			return &DeleteResult{LinkID: strings.TrimSpace(input.LinkID), Deleted: true}, nil
		})
		if err != nil {
			return nil, nil, err
		}

		return textResult(result), result, nil
	}
}

func (t *tools) spaceOrDefault(ctx context.Context, token, spaceID string) (string, error) {
	if id := strings.TrimSpace(spaceID); id != "" {
		return id, nil
	}

	return t.links.DefaultSpaceID(ctx, t.userID, token)
}

// run executes fn under the user's fresh access token and converts failures
// into tool errors carrying only the error code and public message.
func run[T any](ctx context.Context, t *tools, fn func(token string) (T, error)) (T, error) {
	var out T

	err := t.runner.WithFreshAccessToken(ctx, t.userID, func(token string) error {
		var err error
		out, err = fn(token)

		return err
	})
	if err != nil {
		var zero T
		return zero, toolError(err)
	}

	return out, nil
}

func toolError(err error) error {
	return errors.New(apperrors.KindOf(err).String() + ": " + apperrors.Message(err))
}

// textResult builds a CallToolResult with JSON text content from any value.
// This provides the unstructured content alongside the structured output
// that the SDK populates automatically.
func textResult(v any) *mcp.CallToolResult {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: fmt.Sprintf("error marshaling result: %v", err)}},
			IsError: true,
		}
	}

	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: string(data)}},
	}
}
