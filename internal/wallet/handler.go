package wallet

import (
	"net/http"

	apperrors "github.com/frahmantamala/ride-wallet/internal"
	walletmodel "github.com/frahmantamala/ride-wallet/internal/core/datamodel/wallet"
	"github.com/frahmantamala/ride-wallet/internal/transport"
)

// ServiceAPI is the surface the handler needs from the wallet service.
type ServiceAPI interface {
	GetWallet(riderID string) (*walletmodel.Wallet, error)
}

type Handler struct {
	*transport.BaseHandler
	service  ServiceAPI
	currency string
}

func NewHandler(baseHandler *transport.BaseHandler, service ServiceAPI, currency string) *Handler {
	return &Handler{
		BaseHandler: baseHandler,
		service:     service,
		currency:    currency,
	}
}

// GetWallet handles GET /api/v1/wallet
func (h *Handler) GetWallet(w http.ResponseWriter, r *http.Request) {
	riderID := apperrors.RiderIDFromContext(r.Context())
	if riderID == "" {
		h.HandleError(w, apperrors.ErrInvalidToken)
		return
	}

	wallet, err := h.service.GetWallet(riderID)
	if err != nil {
		h.HandleServiceError(w, err)
		return
	}

	h.WriteJSON(w, http.StatusOK, NewWalletResponse(wallet, h.currency))
}
