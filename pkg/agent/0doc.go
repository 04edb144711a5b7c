// SPDX-FileCopyrightText: 2024 The hibiki-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package agent exposes a running client to other programs.
//
// The RestAgent answers HTTP requests for the connection's state, its server
// list and sending messages. The WebSocketAgent streams lifecycle and message
// events as JSON. Both are backed by a Controller, usually a bot.Bot, and are
// bundled by an Agent serving them on one HTTP listener.
package agent
