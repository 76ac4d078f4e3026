package services

import (
	"errors"
	"fmt"

	"github.com/EllectronChik/server7x/models"
	"github.com/EllectronChik/server7x/repositories"
)

// Общие ошибки, используемые в обработчиках подписок и мутаций.
var (
	// Ресурс не найден (универсальная)
	ErrNotFound = errors.New("requested resource not found")

	// Ошибки валидации и бизнес-правил
	ErrValidationFailed      = errors.New("validation failed")
	ErrUnknownColumn         = errors.New("column cannot be updated")
	ErrInvalidValue          = errors.New("invalid value for column")
	ErrTournamentFinished    = errors.New("tournament is already finished")
	ErrTournamentAdvanced    = errors.New("tournament winner already advanced to the next stage")
	ErrPlayerNotInTournament = errors.New("player does not belong to a team of this tournament")
	ErrNoSuggestion          = errors.New("no start time suggestion is pending")
	ErrOwnSuggestion         = errors.New("a suggestion can only be accepted by the other team")
	ErrNoActiveSeason        = errors.New("no active season")
	ErrUnknownCreateKind     = errors.New("unknown create kind")

	// Ошибки конфликтов
	ErrDuplicate = errors.New("tournament already exists")

	// Ошибки аутентификации и авторизации
	ErrAuthenticationFailed = errors.New("authentication failed")
	ErrForbiddenOperation   = errors.New("operation not allowed for the current user")
	ErrNotParticipant       = errors.New("caller does not manage a team of this tournament")
	ErrNoTeam               = errors.New("caller does not manage a team")
)

// mapRepoError folds repository sentinels into service errors so the
// transport only has to know one error vocabulary.
func mapRepoError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, repositories.ErrMatchNotFound),
		errors.Is(err, repositories.ErrTournamentNotFound),
		errors.Is(err, repositories.ErrPlayerNotFound),
		errors.Is(err, repositories.ErrTeamNotFound),
		errors.Is(err, repositories.ErrSeasonNotFound):
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	case errors.Is(err, repositories.ErrNoActiveSeason):
		return ErrNoActiveSeason
	case errors.Is(err, repositories.ErrTournamentDuplicate):
		return ErrDuplicate
	case errors.Is(err, repositories.ErrMatchPlayerInvalid),
		errors.Is(err, repositories.ErrMatchTournamentInvalid),
		errors.Is(err, repositories.ErrTournamentInvalidSeason),
		errors.Is(err, repositories.ErrTournamentInvalidTeam),
		errors.Is(err, models.ErrMatchSamePlayers),
		errors.Is(err, models.ErrMatchSameTeamPlayers),
		errors.Is(err, models.ErrMatchWinnerNotPlayer),
		errors.Is(err, models.ErrTournamentSameTeams):
		return fmt.Errorf("%w: %w", ErrValidationFailed, err)
	}
	return err
}

// IsClientError reports whether err is caused by the request rather than
// by the system and may be shown to the caller as is.
func IsClientError(err error) bool {
	for _, target := range []error{
		ErrNotFound, ErrValidationFailed, ErrUnknownColumn, ErrInvalidValue, ErrTournamentFinished,
		ErrTournamentAdvanced, ErrPlayerNotInTournament, ErrNoSuggestion, ErrOwnSuggestion,
		ErrNoActiveSeason, ErrUnknownCreateKind, ErrDuplicate, ErrAuthenticationFailed,
		ErrForbiddenOperation, ErrNotParticipant, ErrNoTeam,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
