// Package echo exposes the federation broker over HTTP using the echo
// framework: the interaction-routed redirect-out endpoint, the upstream
// callback endpoint, and the read-only connection listing and SAML metadata
// endpoints.
package echo

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"go.pilab.hu/idfed/domain"
	"go.pilab.hu/idfed/internal/connection"
	"go.pilab.hu/idfed/internal/correlation"
	"go.pilab.hu/idfed/internal/upstream"
	"go.pilab.hu/idfed/mongodb"
	"go.pilab.hu/idfed/services"
)

// FederationAPI holds the handler dependencies.
type FederationAPI struct {
	broker    *services.Broker
	groups    domain.AuthGroupRepository
	resolver  *connection.Resolver
	saml      *upstream.SAMLAdapter
	publicURL string
}

// NewFederationAPI initializes the federation HTTP surface. publicURL is the
// broker's externally reachable base URL, used to render the assertion
// consumer service location in SAML metadata.
func NewFederationAPI(
	broker *services.Broker,
	groups domain.AuthGroupRepository,
	resolver *connection.Resolver,
	saml *upstream.SAMLAdapter,
	publicURL string,
) *FederationAPI {
	return &FederationAPI{
		broker:    broker,
		groups:    groups,
		resolver:  resolver,
		saml:      saml,
		publicURL: publicURL,
	}
}

// RegisterRoutes registers the federation routes.
func (fa *FederationAPI) RegisterRoutes(e *echo.Echo) {
	e.GET("/interaction/:uid/federated", fa.InitiateHandler)
	e.POST("/interaction/:uid/federated", fa.InitiateHandler)

	e.GET(correlation.CallbackPathPrefix+"/:spec/:provider/:name", fa.CallbackHandler)
	e.POST(correlation.CallbackPathPrefix+"/:spec/:provider/:name", fa.CallbackHandler)

	e.GET("/federation/connections", fa.ConnectionsHandler)
	e.GET("/federation/saml/metadata/:spec/:provider/:name", fa.SAMLMetadataHandler)

	e.GET("/healthz", fa.HealthHandler)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
}

// InitiateHandler starts a federation attempt for the in-flight interaction
// addressed by the path uid.
func (fa *FederationAPI) InitiateHandler(c echo.Context) error {
	fa.broker.Initiate(c.Response(), c.Request(), c.Param("uid"))
	return nil
}

// CallbackHandler consumes the upstream's redirect back. The connection code
// is reassembled from the path segments.
func (fa *FederationAPI) CallbackHandler(c echo.Context) error {
	code := c.Param("spec") + "." + c.Param("provider") + "." + c.Param("name")
	fa.broker.Callback(c.Response(), c.Request(), code)
	return nil
}

// connectionButton is the UI-facing descriptor of one configured upstream
// connection.
type connectionButton struct {
	Connection string `json:"connection"`
	Spec       string `json:"spec"`
	ButtonType string `json:"button_type,omitempty"`
	ButtonText string `json:"button_text,omitempty"`
}

// ConnectionsHandler lists the sign-in buttons configured for an auth group.
// Secrets never leave this endpoint; only the code and button styling do.
func (fa *FederationAPI) ConnectionsHandler(c echo.Context) error {
	groupID := c.QueryParam("auth_group")
	if groupID == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "auth_group is required"})
	}
	group, err := fa.groups.GetByID(c.Request().Context(), groupID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "unknown auth group"})
		}
		log.Ctx(c.Request().Context()).Error().Err(err).Msg("auth group lookup failed")
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "lookup failed"})
	}

	buttons := make([]connectionButton, 0)
	for spec, conns := range group.Federation {
		for _, conn := range conns {
			buttons = append(buttons, connectionButton{
				Connection: connection.Format(spec, conn.Provider, conn.Name),
				Spec:       string(spec),
				ButtonType: conn.ButtonType,
				ButtonText: conn.ButtonText,
			})
		}
	}
	return c.JSON(http.StatusOK, echo.Map{"connections": buttons})
}

// SAMLMetadataHandler serves the service-provider entity descriptor for one
// SAML connection so identity providers can be configured against it.
func (fa *FederationAPI) SAMLMetadataHandler(c echo.Context) error {
	ctx := c.Request().Context()
	groupID := c.QueryParam("auth_group")
	if groupID == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "auth_group is required"})
	}
	group, err := fa.groups.GetByID(ctx, groupID)
	if err != nil {
		return c.JSON(http.StatusNotFound, echo.Map{"error": "unknown auth group"})
	}

	code := c.Param("spec") + "." + c.Param("provider") + "." + c.Param("name")
	resolved, err := fa.resolver.Resolve(ctx, group, c.QueryParam("organization_id"), code)
	if err != nil {
		return c.JSON(http.StatusNotFound, echo.Map{"error": "unknown connection"})
	}
	if resolved.Code.Spec != domain.SpecSAML {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "not a saml connection"})
	}

	md, err := fa.saml.Metadata(&upstream.FederationContext{
		Group:       group,
		Resolved:    resolved,
		CallbackURL: fa.publicURL + correlation.CallbackPath(resolved.Code),
	})
	if err != nil {
		log.Ctx(ctx).Error().Err(err).Str("connection", code).Msg("saml metadata build failed")
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "metadata unavailable"})
	}
	return c.Blob(http.StatusOK, "application/samlmetadata+xml", md)
}

// HealthHandler reports liveness and storage reachability.
func (fa *FederationAPI) HealthHandler(c echo.Context) error {
	if err := mongodb.Ping(c.Request().Context()); err != nil {
		return c.JSON(http.StatusServiceUnavailable, echo.Map{"status": "degraded"})
	}
	return c.JSON(http.StatusOK, echo.Map{"status": "ok"})
}
