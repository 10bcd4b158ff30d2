// Copyright 2019 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package main is the peereval HTTP server.
package main

import (
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"peereval.dev/peereval/internal/appmain"
	"peereval.dev/peereval/internal/engine"
)

func main() {
	// A .env file is optional; PEEREVAL_* variables override config files.
	if err := godotenv.Load(); err != nil {
		logrus.WithError(err).Debug("no .env file loaded")
	}
	appmain.RunApplication("peereval", engine.Bind)
}
