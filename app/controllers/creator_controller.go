package controllers

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/ManuelReschke/TipQueue/app/models"
	"github.com/ManuelReschke/TipQueue/app/repository"
	"github.com/ManuelReschke/TipQueue/internal/pkg/earnings"
)

// DashboardReader builds the earnings view of a creator.
type DashboardReader interface {
	Dashboard(ctx context.Context, creatorSlug string) (*earnings.Dashboard, error)
}

type CreatorController struct {
	creators        repository.CreatorRepository
	earnings        DashboardReader
	defaultCurrency string
	timeout         time.Duration
}

func NewCreatorController(creators repository.CreatorRepository, e DashboardReader, defaultCurrency string, timeout time.Duration) *CreatorController {
	return &CreatorController{creators: creators, earnings: e, defaultCurrency: defaultCurrency, timeout: timeout}
}

// CreateCreatorRequest is the first-time setup of a creator. Payment fields
// are only written by onboarding.
type CreateCreatorRequest struct {
	Slug                string `json:"slug" validate:"required"`
	DisplayName         string `json:"displayName"`
	MinPriorityTipCents int64  `json:"minPriorityTipCents"`
	Currency            string `json:"currency"`
	AvgDaysPerTicket    *int   `json:"avgDaysPerTicket"`
}

// creatorView adds the derived connection state to the stored creator.
type creatorView struct {
	*models.Creator
	Connected        bool `json:"connected"`
	AvgDaysPerTicket int  `json:"avgDaysPerTicket"`
}

func newCreatorView(c *models.Creator) creatorView {
	return creatorView{Creator: c, Connected: c.IsConnected(), AvgDaysPerTicket: c.AvgDaysPerTicketOrDefault()}
}

func (cc *CreatorController) HandleCreate(c *fiber.Ctx) error {
	var req CreateCreatorRequest
	if rerr := bindJSON(c, &req); rerr != nil {
		return rerr.respond(c)
	}

	currency := models.NormalizeCurrency(req.Currency)
	if currency == "" {
		currency = cc.defaultCurrency
	}
	creator := &models.Creator{
		Slug:                models.NormalizeSlug(req.Slug),
		DisplayName:         strings.TrimSpace(req.DisplayName),
		MinPriorityTipCents: req.MinPriorityTipCents,
		Currency:            currency,
		AvgDaysPerTicket:    req.AvgDaysPerTicket,
	}
	if err := creator.Validate(); err != nil {
		return errorJSON(c, fiber.StatusBadRequest, "validation_failed", validationMessage(err))
	}

	ctx, cancel := requestContext(c, cc.timeout)
	defer cancel()

	if err := cc.creators.Create(ctx, creator); err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return errorJSON(c, fiber.StatusConflict, "creator_exists", "A creator with this slug already exists")
		}
		log.Errorf("[Creators] Failed to create %s: %v", creator.Slug, err)
		return errorJSON(c, fiber.StatusInternalServerError, "internal_server_error", "Failed to create creator")
	}
	log.Infof("[Creators] Created %s", creator.Slug)
	return c.Status(fiber.StatusCreated).JSON(newCreatorView(creator))
}

func (cc *CreatorController) HandleGet(c *fiber.Ctx) error {
	ctx, cancel := requestContext(c, cc.timeout)
	defer cancel()

	creator, err := cc.creators.GetBySlug(ctx, models.NormalizeSlug(c.Params("slug")))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return errorJSON(c, fiber.StatusNotFound, "creator_not_found", "Creator not found")
		}
		return errorJSON(c, fiber.StatusInternalServerError, "internal_server_error", "Failed to load creator")
	}
	return c.JSON(newCreatorView(creator))
}

// HandleEarnings returns the dashboard. With ?display=<currency> the payout
// figures are also given in that currency, converted with static rates.
func (cc *CreatorController) HandleEarnings(c *fiber.Ctx) error {
	ctx, cancel := requestContext(c, cc.timeout)
	defer cancel()

	d, err := cc.earnings.Dashboard(ctx, c.Params("slug"))
	if err != nil {
		if errors.Is(err, earnings.ErrCreatorNotFound) {
			return errorJSON(c, fiber.StatusNotFound, "creator_not_found", "Creator not found")
		}
		log.Errorf("[Earnings] Dashboard for %s failed: %v", c.Params("slug"), err)
		return errorJSON(c, fiber.StatusInternalServerError, "internal_server_error", "Failed to load earnings")
	}

	display := models.NormalizeCurrency(c.Query("display"))
	if display == "" {
		return c.JSON(d)
	}

	approx := fiber.Map{}
	convert := func(name string, cents int64) bool {
		amount, ok := earnings.ConvertApprox(cents, d.Currency, display)
		approx[name] = amount
		return ok
	}
	ok := convert("currentPayout", d.Current.PayoutCents)
	convert("allTimePayout", d.AllTime.PayoutCents)
	if d.PendingPayout != nil {
		convert("pendingPayout", d.PendingPayout.PayoutCents)
	}
	return c.JSON(fiber.Map{
		"dashboard":        d,
		"display":          approx,
		"displaySupported": ok,
	})
}
