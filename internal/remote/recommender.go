package remote

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/goccy/go-json"

	"github.com/temcen/shopsense/internal/validation"
	"github.com/temcen/shopsense/pkg/models"
)

const (
	MethodPost = "post"
	MethodGet  = "get"
)

// Recommender fetches recommendations from the remote backend, either with
// POST /recommendations carrying the visitor context or with
// GET /recommendations/{userId}?limit=N.
type Recommender struct {
	client    *Client
	method    string
	validator *validation.SchemaValidator
}

func NewRecommender(client *Client, method string, validator *validation.SchemaValidator) *Recommender {
	method = strings.ToLower(strings.TrimSpace(method))
	if method != MethodGet {
		method = MethodPost
	}
	return &Recommender{client: client, method: method, validator: validator}
}

type recommendationBody struct {
	UserID     string           `json:"user_id"`
	SessionID  string           `json:"session_id,omitempty"`
	DeviceType string           `json:"device_type,omitempty"`
	TimeOfDay  string           `json:"time_of_day,omitempty"`
	Referrer   string           `json:"referrer,omitempty"`
	IsNewUser  bool             `json:"is_new_user"`
	Location   *models.Location `json:"location,omitempty"`
	Limit      int              `json:"limit"`
	ProductID  string           `json:"product_id,omitempty"`
}

func (r *Recommender) FetchRecommendations(ctx context.Context, req models.RemoteRecommendationRequest) (*models.RemoteRecommendationResponse, error) {
	var (
		data []byte
		err  error
	)

	if r.method == MethodGet {
		query := url.Values{}
		query.Set("limit", strconv.Itoa(req.Limit))
		if req.TargetProductID != "" {
			query.Set("product_id", req.TargetProductID)
		}
		data, err = r.client.Do(ctx, http.MethodGet, "/recommendations/"+url.PathEscape(req.UserID), query, nil)
	} else {
		body := recommendationBody{
			UserID:     req.UserID,
			SessionID:  req.Context.SessionID,
			DeviceType: string(req.Context.DeviceType),
			TimeOfDay:  string(req.Context.TimeOfDay),
			Referrer:   req.Context.Referrer,
			IsNewUser:  req.Context.IsNewUser,
			Location:   req.Context.Location,
			Limit:      req.Limit,
			ProductID:  req.TargetProductID,
		}
		data, err = r.client.Do(ctx, http.MethodPost, "/recommendations", nil, body)
	}
	if err != nil {
		return nil, err
	}

	return r.decode(data)
}

// decode accepts {"products": [...]} or [{"product_id", "score", "reason"}].
func (r *Recommender) decode(data []byte) (*models.RemoteRecommendationResponse, error) {
	if r.validator != nil {
		if result := r.validator.ValidateRemoteRecommendations(data); !result.Valid {
			return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, result.Err())
		}
	}

	var envelope interface{}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}

	resp := &models.RemoteRecommendationResponse{}

	switch doc := envelope.(type) {
	// Full product documents
	case map[string]interface{}:
		items, ok := doc["products"].([]interface{})
		if !ok {
			return nil, fmt.Errorf("%w: products is not a list", ErrMalformedResponse)
		}
		for i, item := range items {
			raw, ok := item.(map[string]interface{})
			if !ok {
				return nil, fmt.Errorf("%w: product %d is not an object", ErrMalformedResponse, i)
			}
			product, err := models.NormalizeProduct(raw)
			if err != nil {
				return nil, fmt.Errorf("%w: product %d: %v", ErrMalformedResponse, i, err)
			}
			resp.Products = append(resp.Products, product)
		}
	// Scored ids, resolved against the catalog later
	case []interface{}:
		for i, item := range doc {
			raw, ok := item.(map[string]interface{})
			if !ok {
				return nil, fmt.Errorf("%w: record %d is not an object", ErrMalformedResponse, i)
			}
			id, ok := idString(raw["product_id"])
			if !ok {
				return nil, fmt.Errorf("%w: record %d has no product_id", ErrMalformedResponse, i)
			}
			scored := models.ScoredRecommendation{ProductID: id}
			scored.Score, _ = raw["score"].(float64)
			scored.Reason, _ = raw["reason"].(string)
			resp.Scored = append(resp.Scored, scored)
		}
	default:
		return nil, fmt.Errorf("%w: unexpected document type %T", ErrMalformedResponse, envelope)
	}

	return resp, nil
}

func idString(v interface{}) (string, bool) {
	switch id := v.(type) {
	case string:
		return id, id != ""
	case float64:
		return strconv.FormatFloat(id, 'f', -1, 64), true
	}
	return "", false
}
