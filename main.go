package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	cli "github.com/jawher/mow.cli"
	log "github.com/sirupsen/logrus"

	"nestctl/internal/config"
	"nestctl/internal/nest"
	"nestctl/internal/units"
)

const (
	appName = "nestctl"
	appDesc = "command line control for a Nest home"
)

func main() {
	app := cli.App(appName, appDesc)

	configPath := app.String(cli.StringOpt{
		Name:   "c config",
		Desc:   "configuration file location",
		EnvVar: "NESTCTL_CONFIG",
		Value:  config.DefaultPath(),
	})
	clientID := app.String(cli.StringOpt{
		Name:   "client-id",
		Desc:   "OAuth2 client ID",
		EnvVar: "NESTCTL_CLIENT_ID",
		Value:  "",
	})
	clientSecret := app.String(cli.StringOpt{
		Name:   "client-secret",
		Desc:   "OAuth2 client secret",
		EnvVar: "NESTCTL_CLIENT_SECRET",
		Value:  "",
	})
	tokenCache := app.String(cli.StringOpt{
		Name:   "token-cache",
		Desc:   "token cache file location",
		EnvVar: "NESTCTL_TOKEN_CACHE",
		Value:  "",
	})
	serial := app.String(cli.StringOpt{
		Name:   "serial",
		Desc:   "device ID to operate on (defaults to the first device)",
		EnvVar: "NESTCTL_SERIAL",
		Value:  "",
	})
	fahrenheit := app.Bool(cli.BoolOpt{
		Name:   "fahrenheit",
		Desc:   "display temperatures in Fahrenheit",
		EnvVar: "NESTCTL_FAHRENHEIT",
		Value:  false,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var (
		cfg  *config.Config
		sess *nest.Session
	)

	app.Before = func() {
		cfg = loadConfig(*configPath, *clientID, *clientSecret, *tokenCache, *fahrenheit)

		var err error
		sess, err = nest.Open(nest.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			TokenCache:   cfg.TokenCache,
		})
		if err != nil {
			log.WithError(err).Error("failed to open session")
			cli.Exit(1)
		}
		if err := ensureAuthorized(ctx, sess); err != nil {
			log.WithError(err).Error("authorization failed")
			cli.Exit(1)
		}
	}
	app.After = func() {
		if sess != nil {
			_ = sess.Close()
		}
	}

	run := func(f func() error) func() {
		return func() {
			if err := f(); err != nil {
				log.WithError(err).Error("command failed")
				cli.Exit(1)
			}
		}
	}

	app.Command("temp", "show the ambient temperature, or set the target (one value) or target range (two values)", func(cmd *cli.Cmd) {
		cmd.Spec = "[VALUE [HIGH]]"
		value := cmd.String(cli.StringArg{Name: "VALUE", Desc: "target temperature", Value: ""})
		high := cmd.String(cli.StringArg{Name: "HIGH", Desc: "range high bound (low goes in VALUE)", Value: ""})
		cmd.Action = run(func() error {
			t, err := pickThermostat(ctx, sess, *serial)
			if err != nil {
				return err
			}
			if *value == "" {
				ambient, err := t.Temperature(ctx)
				if err != nil {
					return err
				}
				fmt.Println(units.FormatTemp(ambient, cfg.TemperatureScale))
				return nil
			}
			low, err := parseTemp(*value, cfg.TemperatureScale)
			if err != nil {
				return err
			}
			if *high == "" {
				return t.SetTarget(ctx, low)
			}
			hi, err := parseTemp(*high, cfg.TemperatureScale)
			if err != nil {
				return err
			}
			return t.SetTargetRange(ctx, low, hi)
		})
	})

	app.Command("target", "show the current target temperature", func(cmd *cli.Cmd) {
		cmd.Action = run(func() error {
			t, err := pickThermostat(ctx, sess, *serial)
			if err != nil {
				return err
			}
			mode, err := t.Mode(ctx)
			if err != nil {
				return err
			}
			if mode == nest.ModeHeatCool {
				low, hi, err := t.TargetRange(ctx)
				if err != nil {
					return err
				}
				fmt.Printf("%s .. %s\n", units.FormatTemp(low, cfg.TemperatureScale), units.FormatTemp(hi, cfg.TemperatureScale))
				return nil
			}
			target, err := t.Target(ctx)
			if err != nil {
				return err
			}
			fmt.Println(units.FormatTemp(target, cfg.TemperatureScale))
			return nil
		})
	})

	app.Command("fan", "show or set the fan state", func(cmd *cli.Cmd) {
		cmd.Spec = "[STATE]"
		state := cmd.String(cli.StringArg{Name: "STATE", Desc: "on or auto", Value: ""})
		cmd.Action = run(func() error {
			t, err := pickThermostat(ctx, sess, *serial)
			if err != nil {
				return err
			}
			if *state == "" {
				on, err := t.FanTimerActive(ctx)
				if err != nil {
					return err
				}
				fmt.Println(fanLabel(on))
				return nil
			}
			on, err := parseFan(*state)
			if err != nil {
				return err
			}
			return t.SetFan(ctx, on)
		})
	})

	app.Command("mode", "show or set the HVAC mode", func(cmd *cli.Cmd) {
		cmd.Spec = "[MODE]"
		mode := cmd.String(cli.StringArg{Name: "MODE", Desc: "heat, cool, heat-cool, eco or off", Value: ""})
		cmd.Action = run(func() error {
			t, err := pickThermostat(ctx, sess, *serial)
			if err != nil {
				return err
			}
			if *mode == "" {
				current, err := t.Mode(ctx)
				if err != nil {
					return err
				}
				fmt.Println(current)
				return nil
			}
			return t.SetMode(ctx, nest.Mode(*mode))
		})
	})

	app.Command("away", "show or set the structure's away state", func(cmd *cli.Cmd) {
		cmd.Spec = "[STATE]"
		state := cmd.String(cli.StringArg{Name: "STATE", Desc: "home, away, on or off", Value: ""})
		cmd.Action = run(func() error {
			st, err := pickStructure(ctx, sess)
			if err != nil {
				return err
			}
			if *state == "" {
				away, err := st.Away(ctx)
				if err != nil {
					return err
				}
				fmt.Println(away)
				return nil
			}
			away, err := parseAway(*state)
			if err != nil {
				return err
			}
			return st.SetAway(ctx, away)
		})
	})

	app.Command("humid", "show the current humidity", func(cmd *cli.Cmd) {
		cmd.Action = run(func() error {
			t, err := pickThermostat(ctx, sess, *serial)
			if err != nil {
				return err
			}
			humidity, err := t.Humidity(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("%d%%\n", humidity)
			return nil
		})
	})

	app.Command("target_hum", "show or set the target humidity", func(cmd *cli.Cmd) {
		cmd.Spec = "[VALUE]"
		value := cmd.String(cli.StringArg{Name: "VALUE", Desc: "target humidity percent, 10-60 in steps of 5", Value: ""})
		cmd.Action = run(func() error {
			t, err := pickThermostat(ctx, sess, *serial)
			if err != nil {
				return err
			}
			if *value == "" {
				target, err := t.TargetHumidity(ctx)
				if err != nil {
					return err
				}
				fmt.Printf("%d%%\n", target)
				return nil
			}
			pct, err := strconv.Atoi(*value)
			if err != nil {
				return fmt.Errorf("failed to parse humidity %q: %w", *value, err)
			}
			return t.SetTargetHumidity(ctx, pct)
		})
	})

	app.Command("show", "show structures and thermostats", func(cmd *cli.Cmd) {
		keepAlive := cmd.Bool(cli.BoolOpt{
			Name:  "keep-alive",
			Desc:  "stay connected and re-render on every pushed change",
			Value: false,
		})
		cmd.Action = run(func() error {
			render := func() error { return showAll(ctx, sess, cfg) }
			if err := render(); err != nil {
				return err
			}
			if !*keepAlive {
				return nil
			}
			if err := sess.Start(ctx); err != nil {
				return err
			}
			signalFlag := sess.UpdateSignal()
			for {
				if err := signalFlag.Wait(ctx); err != nil {
					return nil
				}
				signalFlag.Clear()
				if err := render(); err != nil {
					return err
				}
			}
		})
	})

	app.Command("camera-show", "show cameras", func(cmd *cli.Cmd) {
		cmd.Action = run(func() error {
			return showCameras(ctx, sess, cfg)
		})
	})

	app.Command("camera-streaming", "show or set camera streaming", func(cmd *cli.Cmd) {
		cmd.Spec = "[STATE]"
		state := cmd.String(cli.StringArg{Name: "STATE", Desc: "on or off", Value: ""})
		cmd.Action = run(func() error {
			cam, err := pickCamera(ctx, sess, *serial)
			if err != nil {
				return err
			}
			if *state == "" {
				streaming, err := cam.IsStreaming(ctx)
				if err != nil {
					return err
				}
				fmt.Println(onOff(streaming))
				return nil
			}
			enabled, err := parseOnOff(*state)
			if err != nil {
				return err
			}
			return cam.SetStreaming(ctx, enabled)
		})
	})

	app.Command("protect-show", "show smoke and CO alarms", func(cmd *cli.Cmd) {
		cmd.Action = run(func() error {
			return showProtects(ctx, sess)
		})
	})

	if err := app.Run(os.Args); err != nil {
		log.WithError(err).Error("failed to execute application")
		cli.Exit(1)
	}
}

func loadConfig(path, clientID, clientSecret, tokenCache string, fahrenheit bool) *config.Config {
	cfg, err := config.Load(path)
	if err != nil {
		if !errors.Is(err, config.ErrConfigFileNotFound) {
			log.WithError(err).Error("failed to load configuration")
			cli.Exit(1)
		}
		cfg = &config.Config{TokenCache: config.DefaultTokenCache(), TemperatureScale: "C"}
	}
	if clientID != "" {
		cfg.ClientID = clientID
	}
	if clientSecret != "" {
		cfg.ClientSecret = clientSecret
	}
	if tokenCache != "" {
		cfg.TokenCache = tokenCache
	}
	if fahrenheit {
		cfg.TemperatureScale = "F"
	}
	if err := cfg.Validate(); err != nil {
		log.WithError(err).Error("invalid configuration")
		cli.Exit(1)
	}
	return cfg
}

// ensureAuthorized walks the user through the PIN exchange when no cached
// credential exists.
func ensureAuthorized(ctx context.Context, sess *nest.Session) error {
	if !sess.NeedsAuthorization() {
		return nil
	}
	fmt.Println("please go to " + sess.AuthorizeURL())
	fmt.Print("enter the PIN: ")
	reader := bufio.NewReader(os.Stdin)
	pin, err := reader.ReadString('\n')
	if err != nil {
		return fmt.Errorf("failed to read PIN: %w", err)
	}
	return sess.Exchange(ctx, strings.TrimSpace(pin))
}

func pickStructure(ctx context.Context, sess *nest.Session) (*nest.Structure, error) {
	structures, err := sess.Structures(ctx)
	if err != nil {
		return nil, err
	}
	if len(structures) == 0 {
		return nil, errors.New("no structures on this account")
	}
	return structures[0], nil
}

func pickThermostat(ctx context.Context, sess *nest.Session, serial string) (*nest.Thermostat, error) {
	if serial != "" {
		return sess.Thermostat(serial), nil
	}
	thermostats, err := sess.Thermostats(ctx)
	if err != nil {
		return nil, err
	}
	if len(thermostats) == 0 {
		return nil, errors.New("no thermostats on this account")
	}
	return thermostats[0], nil
}

func pickCamera(ctx context.Context, sess *nest.Session, serial string) (*nest.Camera, error) {
	if serial != "" {
		return sess.Camera(serial), nil
	}
	cameras, err := sess.Cameras(ctx)
	if err != nil {
		return nil, err
	}
	if len(cameras) == 0 {
		return nil, errors.New("no cameras on this account")
	}
	return cameras[0], nil
}

func showAll(ctx context.Context, sess *nest.Session, cfg *config.Config) error {
	structures, err := sess.Structures(ctx)
	if err != nil {
		return err
	}
	for _, st := range structures {
		d, err := st.Snapshot(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("structure %s (%s): away=%s security=%s %s %s\n",
			d.Name, st.ID(), d.Away, d.SecurityState, d.PostalCode, d.CountryCode)
	}

	thermostats, err := sess.Thermostats(ctx)
	if err != nil {
		return err
	}
	for _, t := range thermostats {
		d, err := t.Snapshot(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("  thermostat %s (%s): mode=%s hvac=%s temp=%s target=%s humidity=%d%% fan=%s online=%t\n",
			d.Name, t.ID(), d.HVACMode, d.HVACState,
			units.FormatTemp(d.AmbientTemperatureC, cfg.TemperatureScale),
			units.FormatTemp(d.TargetTemperatureC, cfg.TemperatureScale),
			d.Humidity, fanLabel(d.FanTimerActive), d.IsOnline)
	}
	return nil
}

func showCameras(ctx context.Context, sess *nest.Session, cfg *config.Config) error {
	cameras, err := sess.Cameras(ctx)
	if err != nil {
		return err
	}
	for _, cam := range cameras {
		d, err := cam.Snapshot(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("camera %s (%s): streaming=%s motion=%t online=%t last_event=%s\n",
			d.Name, cam.ID(), onOff(d.IsStreaming), d.MotionDetected, d.IsOnline,
			units.RenderTime(d.LastEventAt, cfg.LocalTime))
	}
	return nil
}

func showProtects(ctx context.Context, sess *nest.Session) error {
	protects, err := sess.Protects(ctx)
	if err != nil {
		return err
	}
	for _, p := range protects {
		d, err := p.Snapshot(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("protect %s (%s): smoke=%s co=%s battery=%s color=%s online=%t\n",
			d.Name, p.ID(), d.SmokeAlarmState, d.COAlarmState, d.BatteryHealth, d.UIColorState, d.IsOnline)
	}
	return nil
}

func parseTemp(raw, scale string) (float64, error) {
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("failed to parse temperature %q: %w", raw, err)
	}
	if scale == "F" {
		return units.FToC(v), nil
	}
	return v, nil
}

// parseFan folds the accepted spellings onto the fan timer flag.
func parseFan(raw string) (bool, error) {
	switch strings.ToLower(raw) {
	case "on", "1", "true":
		return true, nil
	case "auto", "auto on", "0", "false":
		return false, nil
	default:
		return false, fmt.Errorf("fan state must be on or auto, got %q", raw)
	}
}

// parseAway folds the accepted spellings onto the away enum.
func parseAway(raw string) (nest.Away, error) {
	switch strings.ToLower(raw) {
	case "away", "on", "true":
		return nest.AwayAway, nil
	case "home", "off", "false":
		return nest.AwayHome, nil
	default:
		return "", fmt.Errorf("away state must be home or away, got %q", raw)
	}
}

func parseOnOff(raw string) (bool, error) {
	switch strings.ToLower(raw) {
	case "on", "true", "1":
		return true, nil
	case "off", "false", "0":
		return false, nil
	default:
		return false, fmt.Errorf("state must be on or off, got %q", raw)
	}
}

func fanLabel(on bool) string {
	if on {
		return "on"
	}
	return "auto"
}

func onOff(v bool) string {
	if v {
		return "on"
	}
	return "off"
}
