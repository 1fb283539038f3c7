package server

import (
	"context"
	"errors"
	"fmt"

	"fleet-dashboard/internal/api"
	"fleet-dashboard/internal/dashboard"
	"fleet-dashboard/internal/link"
)

var errUnknownCommand = errors.New("unknown command")

func (s *Server) handleCommand(ctx context.Context, _ *link.Client, cmd link.Command) error {
	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	switch cmd.Type {
	case link.CmdLogin:
		_, err := s.dash.Login(ctx, api.Credentials{Username: cmd.Username, Password: cmd.Password})
		return err

	case link.CmdLogout:
		return s.dash.Logout(ctx)

	case link.CmdSelect:
		return s.dash.Select(ctx, cmd.VehicleID)

	case link.CmdWindow:
		w, err := dashboard.ParseWindow(cmd.Hours)
		if err != nil {
			return err
		}
		return s.dash.SetWindow(ctx, w)

	case link.CmdPinToggle:
		_, err := s.dash.TogglePin(ctx)
		return err

	case link.CmdClick:
		if cmd.Lat == nil || cmd.Lon == nil {
			return errors.New("click needs lat and lon")
		}
		return s.deliverClick(ctx, api.LatLng{Lat: *cmd.Lat, Lon: *cmd.Lon})

	case link.CmdPinName:
		return s.dash.SubmitPinName(ctx, cmd.Name)

	case link.CmdPinCancel:
		return s.dash.CancelPin(ctx)

	case link.CmdPlacesRefresh:
		return s.dash.RefreshPlaces(ctx)

	case link.CmdStopsRefresh:
		return s.dash.RefreshSavedStops(ctx)
	}
	return fmt.Errorf("%w %q", errUnknownCommand, cmd.Type)
}

// deliverClick passes a map click to the engine only while pin mode is
// armed; any other click is a plain map interaction and is dropped here.
func (s *Server) deliverClick(ctx context.Context, at api.LatLng) error {
	snap, err := s.dash.Snapshot(ctx)
	if err != nil {
		return err
	}
	if snap.Pin.Mode != dashboard.PinArmed {
		return nil
	}
	captured, err := s.dash.Click(ctx, at)
	if err != nil {
		return err
	}
	if captured {
		s.logger.Debug("pin click captured", "lat", at.Lat, "lon", at.Lon)
	}
	return nil
}
