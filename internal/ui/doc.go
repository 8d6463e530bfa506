// Package ui implements the interactive terminal pieces of mnow using bubbletea's Elm architecture.
//
// # Prompts
//
// [Prompter] is how the client asks the user for a value mid-operation: the password for a
// step-up re-authentication, or a one-time code. [TeaPrompter] renders a [PromptModel] (a
// bubbles textinput, masked for secrets) and [LinePrompter] reads plain lines when stdin is not
// a terminal. Both return [ErrPromptCancelled] when the user backs out.
//
// # Session Manager
//
// The (view) [Model] lists the account's sessions and revokes the selected ones:
//  1. [SessionListView] : Browse sessions, toggle selection with space
//  2. [ConfirmView] : Confirm the revocation
//  3. [RevokeView] : Monitor real-time progress updates from tasks.BulkRevoker
//  4. [ResultView] : Display revoked and failed sessions
//
// Keyboard navigation uses vim-style bindings (j/k, space, enter, esc, y/n, r, q) with contextual help displayed via charmbracelet/bubbles/help.
package ui
