package service

import (
	"context"
	"encoding/hex"
	"errors"
	"slices"
	"strconv"
	"strings"

	"github.com/jmerrifield20/anchorkit/internal/anchor/model"
	"github.com/jmerrifield20/anchorkit/internal/anchor/repository"
	"github.com/jmerrifield20/anchorkit/internal/events"
	"github.com/jmerrifield20/anchorkit/internal/store"
	"go.uber.org/zap"
)

type registerPayload struct {
	Attestor  string `json:"attestor"`
	PublicKey string `json:"public_key,omitempty"`
}

type attestorPayload struct {
	Attestor string `json:"attestor"`
}

type servicesPayload struct {
	Attestor string              `json:"attestor"`
	Services []model.ServiceType `json:"services"`
}

type assetsPayload struct {
	Attestor string   `json:"attestor"`
	Assets   []string `json:"assets"`
}

type endpointPayload struct {
	Attestor string `json:"attestor"`
	URL      string `json:"url"`
}

// Register adds an attestor, or restores a revoked one. A revoked attestor
// keeps its configured services and assets and regains them on
// re-registration. publicKey is an optional hex BLS public key; an empty value
// on re-registration keeps the previous key.
func (e *Engine) Register(ctx context.Context, call Call, attestor, publicKey string) (*model.Attestor, error) {
	if err := model.ValidateIdentity(attestor); err != nil {
		return nil, err
	}
	publicKey = strings.ToLower(publicKey)
	if publicKey != "" {
		pk, err := hex.DecodeString(publicKey)
		if err != nil {
			return nil, model.Errorf(model.ErrInvalidSignature, "public key is not hex")
		}
		if e.verifier != nil {
			if err := e.verifier.ValidatePublicKey(pk); err != nil {
				return nil, model.Errorf(model.ErrInvalidSignature, "public key: %v", err)
			}
		}
	}

	var out *model.Attestor
	_, err := e.mutate(ctx, call, KindRegister, registerPayload{Attestor: attestor, PublicKey: publicKey}, func(o *op) (string, error) {
		if err := e.requireAdmin(call); err != nil {
			return "", err
		}
		a, err := repository.GetAttestor(o.tx, attestor)
		result := "registered"
		switch {
		case errors.Is(err, repository.ErrNotFound):
			a = &model.Attestor{
				ID:           attestor,
				Services:     []model.ServiceType{},
				Assets:       []string{},
				RegisteredAt: o.unix(),
			}
		case err != nil:
			return "", err
		case a.Active():
			return "", model.Errorf(model.ErrAlreadyRegistered, "attestor %s", attestor)
		default:
			result = "reregistered"
		}
		a.Registered = true
		a.Revoked = false
		if publicKey != "" {
			a.PublicKey = publicKey
		}
		a.UpdatedAt = o.unix()
		if err := repository.PutAttestor(o.tx, a); err != nil {
			return "", err
		}
		o.emit(events.TypeAttestorRegistered, map[string]string{"attestor": attestor, "result": result})
		out = a
		return result, nil
	})
	if err != nil {
		return nil, err
	}
	e.logger.Info("attestor registered", zap.String("attestor", attestor), zap.String("by", call.Caller))
	return out, nil
}

// Revoke marks an attestor revoked. Revoking a revoked attestor succeeds
// without change and is still audited.
func (e *Engine) Revoke(ctx context.Context, call Call, attestor string) error {
	_, err := e.mutate(ctx, call, KindRevoke, attestorPayload{Attestor: attestor}, func(o *op) (string, error) {
		if err := e.requireAdmin(call); err != nil {
			return "", err
		}
		a, err := loadAttestor(o.tx, attestor)
		if err != nil {
			return "", err
		}
		if a.Revoked {
			return "unchanged", nil
		}
		a.Revoked = true
		a.UpdatedAt = o.unix()
		if err := repository.PutAttestor(o.tx, a); err != nil {
			return "", err
		}
		o.emit(events.TypeAttestorRevoked, map[string]string{"attestor": attestor})
		return "revoked", nil
	})
	if err == nil {
		e.logger.Info("attestor revoked", zap.String("attestor", attestor), zap.String("by", call.Caller))
	}
	return err
}

// ConfigureServices replaces the attestor's service set.
func (e *Engine) ConfigureServices(ctx context.Context, call Call, attestor string, services []model.ServiceType) error {
	if err := model.ValidateServices(services); err != nil {
		return err
	}
	services = slices.Clone(services)
	_, err := e.mutate(ctx, call, KindConfigureServices, servicesPayload{Attestor: attestor, Services: services}, func(o *op) (string, error) {
		a, err := e.selfServiceAttestor(o, attestor)
		if err != nil {
			return "", err
		}
		a.Services = services
		a.UpdatedAt = o.unix()
		if err := repository.PutAttestor(o.tx, a); err != nil {
			return "", err
		}
		o.emit(events.TypeServicesConfigured, map[string]string{
			"attestor": attestor,
			"count":    strconv.Itoa(len(services)),
		})
		return strconv.Itoa(len(services)), nil
	})
	return err
}

// SetSupportedAssets replaces the attestor's asset set. An empty set clears it.
func (e *Engine) SetSupportedAssets(ctx context.Context, call Call, attestor string, assets []string) error {
	if err := model.ValidateAssets(assets); err != nil {
		return err
	}
	assets = slices.Clone(assets)
	if assets == nil {
		assets = []string{}
	}
	_, err := e.mutate(ctx, call, KindSetAssets, assetsPayload{Attestor: attestor, Assets: assets}, func(o *op) (string, error) {
		a, err := e.selfServiceAttestor(o, attestor)
		if err != nil {
			return "", err
		}
		a.Assets = assets
		a.UpdatedAt = o.unix()
		if err := repository.PutAttestor(o.tx, a); err != nil {
			return "", err
		}
		o.emit(events.TypeAssetsConfigured, map[string]string{
			"attestor": attestor,
			"assets":   strings.Join(assets, ","),
		})
		return strconv.Itoa(len(assets)), nil
	})
	return err
}

// ConfigureEndpoint sets the attestor's service URL.
func (e *Engine) ConfigureEndpoint(ctx context.Context, call Call, attestor, url string) (*model.Endpoint, error) {
	if err := model.ValidateEndpointURL(url); err != nil {
		return nil, err
	}
	var out *model.Endpoint
	_, err := e.mutate(ctx, call, KindConfigureEndpoint, endpointPayload{Attestor: attestor, URL: url}, func(o *op) (string, error) {
		if _, err := e.selfServiceAttestor(o, attestor); err != nil {
			return "", err
		}
		ep := &model.Endpoint{Attestor: attestor, URL: url, UpdatedAt: o.unix()}
		if err := repository.PutEndpoint(o.tx, ep); err != nil {
			return "", err
		}
		o.emit(events.TypeEndpointConfigured, map[string]string{"attestor": attestor, "url": url})
		out = ep
		return "configured", nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// RemoveEndpoint deletes the attestor's endpoint.
func (e *Engine) RemoveEndpoint(ctx context.Context, call Call, attestor string) error {
	_, err := e.mutate(ctx, call, KindRemoveEndpoint, attestorPayload{Attestor: attestor}, func(o *op) (string, error) {
		if err := e.requireSelfOrAdmin(call, attestor); err != nil {
			return "", err
		}
		if _, err := loadAttestor(o.tx, attestor); err != nil {
			return "", err
		}
		if _, err := repository.GetEndpoint(o.tx, attestor); err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return "", model.Errorf(model.ErrEndpointNotFound, "attestor %s", attestor)
			}
			return "", err
		}
		if err := repository.DeleteEndpoint(o.tx, attestor); err != nil {
			return "", err
		}
		o.emit(events.TypeEndpointRemoved, map[string]string{"attestor": attestor})
		return "removed", nil
	})
	return err
}

// selfServiceAttestor authorizes the attestor itself or an admin and loads
// the attestor, which must be active.
func (e *Engine) selfServiceAttestor(o *op, attestor string) (*model.Attestor, error) {
	if err := e.requireSelfOrAdmin(o.call, attestor); err != nil {
		return nil, err
	}
	return activeAttestor(o.tx, attestor)
}

// ── Reads ───────────────────────────────────────────────────────────────────

// GetAttestor returns the stored attestor record, including revoked ones.
func (e *Engine) GetAttestor(ctx context.Context, attestor string) (*model.Attestor, error) {
	var out *model.Attestor
	err := e.view(ctx, func(r store.Reader) error {
		a, err := loadAttestor(r, attestor)
		out = a
		return err
	})
	return out, err
}

// GetSupportedServices returns the services the attestor currently holds.
// A revoked attestor holds none.
func (e *Engine) GetSupportedServices(ctx context.Context, attestor string) ([]model.ServiceType, error) {
	a, err := e.GetAttestor(ctx, attestor)
	if err != nil {
		return nil, err
	}
	return a.ActiveServices(), nil
}

// GetSupportedAssets returns the assets the attestor currently handles.
func (e *Engine) GetSupportedAssets(ctx context.Context, attestor string) ([]string, error) {
	a, err := e.GetAttestor(ctx, attestor)
	if err != nil {
		return nil, err
	}
	return a.ActiveAssets(), nil
}

// SupportsService reports whether the attestor currently offers s. Unknown
// attestors support nothing.
func (e *Engine) SupportsService(ctx context.Context, attestor string, s model.ServiceType) (bool, error) {
	a, err := e.GetAttestor(ctx, attestor)
	if errors.Is(err, model.ErrAttestorNotRegistered) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return a.Supports(s), nil
}

// IsAssetSupported reports whether the attestor currently handles sym.
func (e *Engine) IsAssetSupported(ctx context.Context, attestor, sym string) (bool, error) {
	a, err := e.GetAttestor(ctx, attestor)
	if errors.Is(err, model.ErrAttestorNotRegistered) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return a.SupportsAsset(sym), nil
}

// GetEndpoint returns the attestor's endpoint.
func (e *Engine) GetEndpoint(ctx context.Context, attestor string) (*model.Endpoint, error) {
	var out *model.Endpoint
	err := e.view(ctx, func(r store.Reader) error {
		ep, err := repository.GetEndpoint(r, attestor)
		if errors.Is(err, repository.ErrNotFound) {
			return model.Errorf(model.ErrEndpointNotFound, "attestor %s", attestor)
		}
		out = ep
		return err
	})
	return out, err
}
