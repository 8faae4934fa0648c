/*
Copyright 2023 Gravitational, Inc.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package webterm defines constants shared across the gateway.
package webterm

const (
	// ComponentWeb is the public facing HTTP and websocket server.
	ComponentWeb = "web"

	// ComponentAuth is the identity and token service.
	ComponentAuth = "auth"

	// ComponentSSHPool is the SSH connection manager.
	ComponentSSHPool = "sshpool"

	// ComponentBroker is the per-client session broker.
	ComponentBroker = "broker"

	// ComponentAssist is the natural language assistant bridge.
	ComponentAssist = "assist"

	// ComponentStorage is the durable store.
	ComponentStorage = "storage"
)

const (
	// KeepAliveReqType is the SSH global request type used to keep the
	// transport alive. A server will respond to it even though the request
	// type is unknown to it.
	KeepAliveReqType = "keepalive@openssh.com"

	// TerminalType is the terminal emulation requested for remote shells.
	TerminalType = "xterm-256color"
)
