package mercadolibre

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
)

// GetUser fetches a user profile; an empty userID means the authenticated user.
func (c *Client) GetUser(ctx context.Context, userID string, attrs string) (Document, error) {
	if userID == "" {
		userID = "me"
	}
	q := url.Values{}
	if attrs != "" {
		q.Set("attributes", attrs)
	}
	var doc Document
	if err := c.getJSON(ctx, "users", "/users/"+url.PathEscape(userID), q, &doc); err != nil {
		return nil, err
	}
	return doc, nil
}

// GetItems searches the seller's listings and fetches every item found.
func (c *Client) GetItems(ctx context.Context, sellerID int64, limit int, status string) ([]Document, error) {
	q := url.Values{}
	q.Set("limit", strconv.Itoa(limit))
	q.Set("status", status)

	var result struct {
		Results []string `json:"results"`
	}
	endpoint := fmt.Sprintf("/users/%d/items/search", sellerID)
	if err := c.getJSON(ctx, "items_search", endpoint, q, &result); err != nil {
		return nil, err
	}

	items := make([]Document, 0, len(result.Results))
	for _, id := range result.Results {
		item, err := c.GetItem(ctx, id, "")
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, nil
}

func (c *Client) GetItem(ctx context.Context, itemID string, attrs string) (Document, error) {
	q := url.Values{}
	if attrs != "" {
		q.Set("attributes", attrs)
	}
	var doc Document
	if err := c.getJSON(ctx, "items", "/items/"+url.PathEscape(itemID), q, &doc); err != nil {
		return nil, err
	}
	return doc, nil
}

// GetDescription never fails; errors are reported inside the fallback document.
func (c *Client) GetDescription(ctx context.Context, itemID string) Document {
	var doc Document
	if err := c.getJSON(ctx, "item_description", "/items/"+url.PathEscape(itemID)+"/description", nil, &doc); err != nil {
		return Document{"plain_text": "N/A", "error": err.Error()}
	}
	return doc
}

// GetReviews never fails; errors are reported inside the fallback document.
func (c *Client) GetReviews(ctx context.Context, itemID string) Document {
	var doc Document
	if err := c.getJSON(ctx, "reviews", "/reviews/item/"+url.PathEscape(itemID), nil, &doc); err != nil {
		return Document{
			"rating_average": 0,
			"total_reviews":  0,
			"reviews":        []any{},
			"error":          err.Error(),
		}
	}
	return doc
}

// GetQuestions never fails; errors are reported inside the fallback document.
func (c *Client) GetQuestions(ctx context.Context, itemID string, limit int) Document {
	q := url.Values{}
	q.Set("item_id", itemID)
	q.Set("limit", strconv.Itoa(limit))

	var doc Document
	if err := c.getJSON(ctx, "questions", "/questions/search", q, &doc); err != nil {
		return Document{"questions": []any{}, "total": 0, "error": err.Error()}
	}
	return doc
}

// GetOrders returns one page of raw order documents for the seller. The
// orders search only honours limit; offset is not forwarded.
func (c *Client) GetOrders(ctx context.Context, sellerID int64, limit int) ([]json.RawMessage, error) {
	q := url.Values{}
	q.Set("seller", strconv.FormatInt(sellerID, 10))
	q.Set("limit", strconv.Itoa(limit))

	var result struct {
		Results *[]json.RawMessage `json:"results"`
	}
	if err := c.getJSON(ctx, "orders_search", "/orders/search", q, &result); err != nil {
		return nil, err
	}
	if result.Results == nil {
		return nil, fmt.Errorf("%w: orders search response has no results", ErrHTTP)
	}
	return *result.Results, nil
}

func (c *Client) GetListingTypes(ctx context.Context, siteID string) (json.RawMessage, error) {
	return c.do(ctx, call{
		resource: "listing_types",
		method:   http.MethodGet,
		endpoint: "/sites/" + url.PathEscape(siteID) + "/listing_types",
	})
}

func (c *Client) GetListingExposures(ctx context.Context, siteID string) (json.RawMessage, error) {
	return c.do(ctx, call{
		resource: "listing_exposures",
		method:   http.MethodGet,
		endpoint: "/sites/" + url.PathEscape(siteID) + "/listing_exposures",
	})
}

type SearchParams struct {
	SiteID   string
	Query    string
	SellerID int64
	Category string
	Limit    int
	Offset   int
}

// Search queries the site search. When the search is refused with 401/403 and
// no seller was given, it falls back to the authenticated user's own items.
func (c *Client) Search(ctx context.Context, p SearchParams) (json.RawMessage, error) {
	q := url.Values{}
	q.Set("limit", strconv.Itoa(p.Limit))
	q.Set("offset", strconv.Itoa(p.Offset))
	if p.Query != "" {
		q.Set("q", p.Query)
	}
	if p.SellerID != 0 {
		q.Set("seller_id", strconv.FormatInt(p.SellerID, 10))
	}
	if p.Category != "" {
		q.Set("category", p.Category)
	}

	raw, err := c.do(ctx, call{
		resource: "search",
		method:   http.MethodGet,
		endpoint: "/sites/" + url.PathEscape(p.SiteID) + "/search",
		query:    q,
	})
	if err == nil {
		return raw, nil
	}
	if p.SellerID != 0 || !(errors.Is(err, ErrForbidden) || errors.Is(err, ErrUnauthorized)) {
		return nil, err
	}

	user, err := c.GetUser(ctx, "", "")
	if err != nil {
		return nil, err
	}
	id, ok := user["id"].(float64)
	if !ok {
		return nil, fmt.Errorf("%w: user profile has no numeric id", ErrHTTP)
	}
	items, err := c.GetItems(ctx, int64(id), p.Limit, "active")
	if err != nil {
		return nil, err
	}
	return json.Marshal(items)
}

func (c *Client) GetCategories(ctx context.Context, siteID string) (json.RawMessage, error) {
	return c.do(ctx, call{
		resource: "categories",
		method:   http.MethodGet,
		endpoint: "/sites/" + url.PathEscape(siteID) + "/categories",
	})
}

func (c *Client) GetCategory(ctx context.Context, categoryID string) (Document, error) {
	var doc Document
	if err := c.getJSON(ctx, "category", "/categories/"+url.PathEscape(categoryID), nil, &doc); err != nil {
		return nil, err
	}
	return doc, nil
}

// GetTrends lists trending searches for a site, optionally within a category.
func (c *Client) GetTrends(ctx context.Context, siteID, categoryID string) (json.RawMessage, error) {
	endpoint := "/trends/" + url.PathEscape(siteID)
	if categoryID != "" {
		endpoint += "/" + url.PathEscape(categoryID)
	}
	return c.do(ctx, call{resource: "trends", method: http.MethodGet, endpoint: endpoint})
}

type ValidationResult struct {
	Valid  bool `json:"valid"`
	Errors any  `json:"errors"`
}

// ValidateItem submits a listing to /items/validate. The endpoint answers 204
// for a valid listing and a JSON error report otherwise.
func (c *Client) ValidateItem(ctx context.Context, item any) ValidationResult {
	body, err := json.Marshal(item)
	if err != nil {
		return ValidationResult{Valid: false, Errors: err.Error()}
	}

	status, resp, err := c.send(ctx, call{
		method:      http.MethodPost,
		endpoint:    "/items/validate",
		body:        body,
		contentType: "application/json",
	}, true)
	if err != nil {
		return ValidationResult{Valid: false, Errors: err.Error()}
	}
	if status == http.StatusNoContent {
		return ValidationResult{Valid: true}
	}

	var report any
	if err := json.Unmarshal(resp, &report); err != nil {
		return ValidationResult{Valid: false, Errors: err.Error()}
	}
	return ValidationResult{Valid: false, Errors: report}
}

// RefreshToken exchanges a refresh token at the OAuth endpoint. It bypasses the
// rate counter and the retry policy.
func (c *Client) RefreshToken(ctx context.Context, refreshToken string) (*Tokens, error) {
	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("client_id", c.cfg.ClientID)
	form.Set("client_secret", c.cfg.ClientSecret)
	form.Set("refresh_token", refreshToken)

	status, body, err := c.send(ctx, call{
		method:      http.MethodPost,
		endpoint:    "/oauth/token",
		body:        []byte(form.Encode()),
		contentType: "application/x-www-form-urlencoded",
	}, false)
	if err != nil {
		return nil, err
	}
	if status < 200 || status > 299 {
		return nil, &APIError{
			Kind:       kindForStatus(status),
			StatusCode: status,
			Endpoint:   "/oauth/token",
			Body:       decodeErrorBody(body),
		}
	}

	var t Tokens
	if err := json.Unmarshal(body, &t); err != nil {
		return nil, fmt.Errorf("decode token response: %w", err)
	}
	if t.AccessToken == "" {
		return nil, fmt.Errorf("%w: token response has no access_token", ErrHTTP)
	}
	return &t, nil
}
