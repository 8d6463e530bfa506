// submodule cmd contains command definitions
package main

import "github.com/urfave/cli/v3"

// setupCommand handles setup operations for configuration and the local database.
func setupCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "setup",
		Usage: "Setup and configuration commands",
		Commands: []*cli.Command{
			{
				Name:   "config",
				Usage:  "Write a config.toml from the built-in template",
				Action: r.SetupConfig,
			},
			{
				Name:  "database",
				Usage: "Initialize database and run migrations",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "rollback",
						Usage: "Roll back the most recent migration instead",
					},
				},
				Action: r.offline(r.SetupDatabase),
			},
		},
	}
}

// sessionCommand handles sign-in state
func sessionCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "session",
		Usage: "Sign in, sign out and inspect the stored session",
		Commands: []*cli.Command{
			{
				Name:  "login",
				Usage: "Sign in with email and password, or in the browser",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "email",
						Aliases: []string{"e"},
						Usage:   "Account email",
					},
					&cli.StringFlag{
						Name:  "password",
						Usage: "Account password (prompted when omitted)",
					},
					&cli.BoolFlag{
						Name:  "browser",
						Usage: "Sign in through the browser (authorization code flow)",
					},
					&cli.BoolFlag{
						Name:  "trust-device",
						Usage: "Remember this device after a second-factor challenge",
					},
				},
				Action: r.online(r.SessionLogin),
			},
			{
				Name:   "logout",
				Usage:  "Forget the stored credentials",
				Action: r.online(r.SessionLogout),
			},
			{
				Name:   "status",
				Usage:  "Show whether a usable session is stored",
				Action: r.online(r.SessionStatus),
			},
			{
				Name:   "refresh",
				Usage:  "Exchange the refresh token for a new access token",
				Action: r.online(r.SessionRefresh),
			},
		},
	}
}

// passwordCommand handles password recovery and changes
func passwordCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "password",
		Usage: "Reset or change the account password",
		Commands: []*cli.Command{
			{
				Name:  "forgot",
				Usage: "Request a password reset email",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "email",
						Aliases:  []string{"e"},
						Usage:    "Account email",
						Required: true,
					},
				},
				Action: r.online(r.PasswordForgot),
			},
			{
				Name:  "reset",
				Usage: "Set a new password with the token from the reset email",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "token",
						Usage:    "Reset token",
						Required: true,
					},
					&cli.StringFlag{
						Name:  "new-password",
						Usage: "New password (prompted when omitted)",
					},
				},
				Action: r.online(r.PasswordReset),
			},
			{
				Name:   "change",
				Usage:  "Change the password of the signed-in account",
				Action: r.online(r.PasswordChange),
			},
		},
	}
}

// emailCommand handles email address changes
func emailCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "email",
		Usage: "Change the account email address",
		Commands: []*cli.Command{
			{
				Name:  "change",
				Usage: "Start an email change; a confirmation is sent to the new address",
				Arguments: []cli.Argument{
					&cli.StringArg{Name: "new-email"},
				},
				Action: r.online(r.EmailChange),
			},
			{
				Name:  "confirm",
				Usage: "Confirm an email change with the emailed token",
				Arguments: []cli.Argument{
					&cli.StringArg{Name: "token"},
				},
				Action: r.online(r.EmailConfirm),
			},
		},
	}
}

// accountCommand handles deactivation and deletion
func accountCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "account",
		Usage: "Deactivate or delete the account",
		Commands: []*cli.Command{
			{
				Name:  "deactivate",
				Usage: "Deactivate the account; signing in again reactivates it",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "reason",
						Usage: "Optional reason",
					},
				},
				Action: r.online(r.AccountDeactivate),
			},
			{
				Name:   "delete-otp",
				Usage:  "Email a one-time code for account deletion",
				Action: r.online(r.AccountDeletionOTP),
			},
			{
				Name:  "delete",
				Usage: "Permanently delete the account",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "code",
						Usage: "Deletion code (prompted when omitted)",
					},
					&cli.StringFlag{
						Name:  "confirm",
						Usage: "Type DELETE to confirm (prompted when omitted)",
					},
				},
				Action: r.online(r.AccountDelete),
			},
		},
	}
}

// mfaCommand handles multi-factor authentication
func mfaCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "mfa",
		Usage: "Manage multi-factor authentication",
		Commands: []*cli.Command{
			{
				Name:   "status",
				Usage:  "Show whether MFA is enabled",
				Action: r.online(r.MFAStatus),
			},
			{
				Name:  "enable",
				Usage: "Start MFA enrolment",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "method",
						Usage: "totp or email",
						Value: "totp",
					},
				},
				Action: r.online(r.MFAEnable),
			},
			{
				Name:  "verify",
				Usage: "Finish enrolment with a code from the authenticator",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "code",
						Usage: "One-time code (prompted when omitted)",
					},
					&cli.StringFlag{
						Name:  "export",
						Usage: "Also write the recovery codes to a file: text, markdown or csv",
					},
					&cli.StringFlag{
						Name:    "output",
						Aliases: []string{"o"},
						Usage:   "Recovery codes file path",
					},
				},
				Action: r.online(r.MFAVerify),
			},
			{
				Name:  "disable",
				Usage: "Turn MFA off",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "code",
						Usage: "One-time code",
					},
					&cli.StringFlag{
						Name:  "recovery-code",
						Usage: "Recovery code instead of a one-time code",
					},
				},
				Action: r.online(r.MFADisable),
			},
			{
				Name:  "login",
				Usage: "Answer a pending second-factor challenge",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "mfa-token",
						Usage:    "Challenge token from session login",
						Required: true,
					},
					&cli.StringFlag{
						Name:  "code",
						Usage: "One-time code",
					},
					&cli.StringFlag{
						Name:  "recovery-code",
						Usage: "Recovery code instead of a one-time code",
					},
					&cli.BoolFlag{
						Name:  "trust-device",
						Usage: "Remember this device",
					},
				},
				Action: r.online(r.MFALogin),
			},
			{
				Name:  "recovery-codes",
				Usage: "Issue a fresh set of recovery codes",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "export",
						Usage: "Write the codes to a file: text, markdown or csv",
					},
					&cli.StringFlag{
						Name:    "output",
						Aliases: []string{"o"},
						Usage:   "Recovery codes file path",
					},
				},
				Action: r.online(r.MFARecoveryCodes),
			},
		},
	}
}

// devicesCommand handles trusted devices
func devicesCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "devices",
		Usage: "Manage devices that skip the second factor",
		Commands: []*cli.Command{
			{
				Name:  "list",
				Usage: "List trusted devices",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "cached",
						Usage: "Show the last fetched list without contacting the server",
					},
				},
				Action: r.online(r.DevicesList),
			},
			{
				Name:   "revoke-all",
				Usage:  "Forget every trusted device",
				Action: r.online(r.DevicesRevokeAll),
			},
		},
	}
}

// adminCommand handles account session administration
func adminCommand(r *Runner) *cli.Command {
	revokeFlags := []cli.Flag{
		&cli.IntFlag{
			Name:  "workers",
			Usage: "Concurrent revocations (1-10)",
			Value: 5,
		},
		&cli.FloatFlag{
			Name:  "rate",
			Usage: "Revocations per second",
			Value: 5,
		},
	}

	return &cli.Command{
		Name:  "admin",
		Usage: "Administer the account",
		Commands: []*cli.Command{
			{
				Name:  "sessions",
				Usage: "Manage signed-in sessions",
				Commands: []*cli.Command{
					{
						Name:   "list",
						Usage:  "List active sessions",
						Action: r.online(r.AdminSessionsList),
					},
					{
						Name:      "revoke",
						Usage:     "Sign out sessions by id",
						ArgsUsage: "<session-id>...",
						Flags: append([]cli.Flag{
							&cli.BoolFlag{
								Name:  "all-others",
								Usage: "Revoke every session except the current one",
							},
						}, revokeFlags...),
						Action: r.online(r.AdminSessionsRevoke),
					},
					{
						Name:    "tui",
						Aliases: []string{"ui"},
						Usage:   "Pick sessions to revoke interactively",
						Flags:   revokeFlags,
						Action:  r.online(r.AdminSessionsTUI),
					},
				},
			},
		},
	}
}

// submitCommand runs any catalogue operation with a JSON body
func submitCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:      "submit",
		Usage:     "Submit a named operation with JSON input",
		ArgsUsage: "<operation>",
		Arguments: []cli.Argument{
			&cli.StringArg{Name: "operation"},
		},
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "data",
				Aliases: []string{"d"},
				Usage:   "JSON input",
				Value:   "{}",
			},
			&cli.StringFlag{
				Name:  "idempotency-key",
				Usage: "Reuse a key from an earlier attempt of the same mutation",
			},
			&cli.BoolFlag{
				Name:  "list",
				Usage: "List the available operations",
			},
		},
		Action: r.online(r.Submit),
	}
}

// apiCommand handles raw API calls
func apiCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "api",
		Usage: "Raw authenticated calls to the MoviesNow API",
		Commands: []*cli.Command{
			{
				Name:  "get",
				Usage: "GET a path and print the response",
				Arguments: []cli.Argument{
					&cli.StringArg{Name: "path"},
				},
				Action: r.online(r.APIGet),
			},
			{
				Name:  "post",
				Usage: "POST a JSON body",
				Arguments: []cli.Argument{
					&cli.StringArg{Name: "path"},
				},
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "data",
						Aliases: []string{"d"},
						Usage:   "JSON body to send",
						Value:   "{}",
					},
				},
				Action: r.online(r.APIPost),
			},
			{
				Name:  "delete",
				Usage: "DELETE a path",
				Arguments: []cli.Argument{
					&cli.StringArg{Name: "path"},
				},
				Action: r.online(r.APIDelete),
			},
		},
	}
}

// cacheCommand inspects the local cache
func cacheCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "cache",
		Usage: "Inspect the local account cache",
		Commands: []*cli.Command{
			{
				Name:   "list",
				Usage:  "List cached entries",
				Action: r.online(r.CacheList),
			},
			{
				Name:   "clear",
				Usage:  "Drop every cached entry",
				Action: r.online(r.CacheClear),
			},
		},
	}
}

// devserverCommand runs the local development backend
func devserverCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "devserver",
		Usage: "Run an in-memory MoviesNow backend for development",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "host",
				Usage: "Listen host (default from config)",
			},
			&cli.IntFlag{
				Name:  "port",
				Usage: "Listen port (default from config)",
			},
		},
		Action: r.offline(r.Devserver),
	}
}
