package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/bwmarrin/discordgo"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/jensholdgaard/discord-merchant-bot/internal/merchant"
)

// Handlers process Discord interactions for the merchant.
type Handlers struct {
	merchant *merchant.Manager
	currency string
	logger   *slog.Logger
	tracer   trace.Tracer
}

// NewHandlers creates new command handlers.
func NewHandlers(mgr *merchant.Manager, currency string, logger *slog.Logger, tp trace.TracerProvider) *Handlers {
	return &Handlers{
		merchant: mgr,
		currency: currency,
		logger:   logger,
		tracer:   tp.Tracer("github.com/jensholdgaard/discord-merchant-bot/internal/bot/commands"),
	}
}

// SlashCommands returns the slash command definitions.
func SlashCommands() []*discordgo.ApplicationCommand {
	return []*discordgo.ApplicationCommand{
		{
			Name:        "merchant",
			Description: "Trade with the traveling merchant",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "view",
					Description: "View the current merchant rotation",
				},
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "buy",
					Description: "Buy an item from the merchant",
					Options: []*discordgo.ApplicationCommandOption{
						{
							Type:         discordgo.ApplicationCommandOptionString,
							Name:         "offer",
							Description:  "The offer to buy",
							Required:     true,
							Autocomplete: true,
						},
					},
				},
			},
		},
	}
}

// InteractionCreate handles incoming slash command and autocomplete
// interactions.
func (h *Handlers) InteractionCreate(s *discordgo.Session, i *discordgo.InteractionCreate) {
	switch i.Type {
	case discordgo.InteractionApplicationCommandAutocomplete:
		h.handleAutocomplete(context.Background(), s, i)
	case discordgo.InteractionApplicationCommand:
		h.handleCommand(s, i)
	}
}

func (h *Handlers) handleCommand(s *discordgo.Session, i *discordgo.InteractionCreate) {
	data := i.ApplicationCommandData()
	if data.Name != "merchant" || len(data.Options) == 0 {
		respond(s, i, "Unknown command")
		return
	}

	sub := data.Options[0]
	ctx, span := h.tracer.Start(context.Background(), "InteractionCreate",
		trace.WithAttributes(attribute.String("command", "merchant "+sub.Name)),
	)
	defer span.End()

	switch sub.Name {
	case "view":
		h.handleView(ctx, s, i)
	case "buy":
		h.handleBuy(ctx, s, i, sub)
	default:
		respond(s, i, "Unknown command")
	}
}

func (h *Handlers) handleView(ctx context.Context, s *discordgo.Session, i *discordgo.InteractionCreate) {
	offers, err := h.merchant.Offers(ctx)
	if err != nil {
		h.logger.ErrorContext(ctx, "listing offers failed", slog.Any("error", err))
		respond(s, i, "Something went wrong fetching the merchant's offers. Please try again later.")
		return
	}
	if offers == nil {
		respond(s, i, "The merchant is currently disabled or not configured.")
		return
	}

	respondEmbed(s, i, h.buildOffersEmbed(offers))
}

func (h *Handlers) buildOffersEmbed(list *merchant.OfferList) *discordgo.MessageEmbed {
	embed := &discordgo.MessageEmbed{
		Title:       "Traveling Merchant",
		Description: fmt.Sprintf("Offers refresh <t:%d:R>.", list.EndsAt.Unix()),
		Color:       0x5865F2,
	}
	if len(list.Offers) == 0 {
		embed.Description = "No offers are available right now. Please check back later."
		return embed
	}

	lines := make([]string, 0, len(list.Offers))
	for _, o := range list.Offers {
		label := o.Label
		if o.Variant != "" {
			label += " (" + o.Variant + ")"
		}
		lines = append(lines, fmt.Sprintf("`%d` — %s • %d %s", o.EntryID, label, o.Price, h.currency))
	}
	embed.Fields = []*discordgo.MessageEmbedField{
		{Name: "Current offers", Value: strings.Join(lines, "\n")},
	}
	embed.Footer = &discordgo.MessageEmbedFooter{Text: "Use /merchant buy <offer> to purchase."}
	return embed
}

func (h *Handlers) handleBuy(ctx context.Context, s *discordgo.Session, i *discordgo.InteractionCreate, sub *discordgo.ApplicationCommandInteractionDataOption) {
	entryID, err := strconv.ParseInt(sub.Options[0].StringValue(), 10, 64)
	if err != nil {
		respond(s, i, "Unknown offer. Check /merchant view for valid offers.")
		return
	}

	// The transactional phase can outlive Discord's 3s response window, so
	// defer first and deliver the outcome as a followup.
	deferErr := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{Flags: discordgo.MessageFlagsEphemeral},
	})
	if deferErr != nil {
		h.logger.ErrorContext(ctx, "deferring buy response failed", slog.Any("error", deferErr))
		return
	}

	receipt, err := h.merchant.Purchase(ctx, i.Member.User.ID, entryID, i.GuildID)
	if err != nil {
		followup(s, i, h.purchaseErrorMessage(ctx, err))
		return
	}

	label := receipt.Offer.Label
	if receipt.Offer.Variant != "" {
		label += " (" + receipt.Offer.Variant + ")"
	}
	followup(s, i, fmt.Sprintf(
		"Purchase successful! **%s** added to your inventory for %d %s.",
		label, receipt.Offer.Price, h.currency,
	))
}

// purchaseErrorMessage maps domain errors to user-facing messages. Anything
// unrecognized is an infrastructure fault: log it and show a generic
// failure.
func (h *Handlers) purchaseErrorMessage(ctx context.Context, err error) string {
	var (
		cooldown *merchant.CooldownError
		funds    *merchant.InsufficientFundsError
	)
	switch {
	case errors.Is(err, merchant.ErrDisabled):
		return "The merchant is disabled."
	case errors.Is(err, merchant.ErrNoActiveRotation):
		return "No rotation is currently active."
	case errors.Is(err, merchant.ErrUnknownOffer):
		return "Unknown offer. Check /merchant view for valid offers."
	case errors.As(err, &cooldown):
		return fmt.Sprintf("You can buy again <t:%d:R>.", cooldown.ReadyAt.Unix())
	case errors.As(err, &funds):
		return fmt.Sprintf("You need %d %s but only have %d.", funds.Required, h.currency, funds.Available)
	default:
		h.logger.ErrorContext(ctx, "purchase failed", slog.Any("error", err))
		return "Something went wrong completing your purchase. Please try again later."
	}
}

func (h *Handlers) handleAutocomplete(ctx context.Context, s *discordgo.Session, i *discordgo.InteractionCreate) {
	data := i.ApplicationCommandData()
	if data.Name != "merchant" || len(data.Options) == 0 || data.Options[0].Name != "buy" {
		return
	}

	var query string
	for _, opt := range data.Options[0].Options {
		if opt.Name == "offer" && opt.Focused {
			query, _ = opt.Value.(string)
		}
	}

	offers, err := h.merchant.SuggestOffers(ctx, query)
	if err != nil {
		h.logger.ErrorContext(ctx, "offer autocomplete failed", slog.Any("error", err))
		offers = nil
	}

	choices := make([]*discordgo.ApplicationCommandOptionChoice, 0, len(offers))
	for _, o := range offers {
		choices = append(choices, &discordgo.ApplicationCommandOptionChoice{
			Name:  fmt.Sprintf("%s • %d %s", o.Label, o.Price, h.currency),
			Value: strconv.FormatInt(o.EntryID, 10),
		})
	}

	_ = s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionApplicationCommandAutocompleteResult,
		Data: &discordgo.InteractionResponseData{Choices: choices},
	})
}

func respond(s *discordgo.Session, i *discordgo.InteractionCreate, msg string) {
	_ = s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Content: msg,
			Flags:   discordgo.MessageFlagsEphemeral,
		},
	})
}

func respondEmbed(s *discordgo.Session, i *discordgo.InteractionCreate, embed *discordgo.MessageEmbed) {
	_ = s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Embeds: []*discordgo.MessageEmbed{embed},
			Flags:  discordgo.MessageFlagsEphemeral,
		},
	})
}

func followup(s *discordgo.Session, i *discordgo.InteractionCreate, msg string) {
	_, _ = s.FollowupMessageCreate(i.Interaction, true, &discordgo.WebhookParams{
		Content: msg,
		Flags:   discordgo.MessageFlagsEphemeral,
	})
}
