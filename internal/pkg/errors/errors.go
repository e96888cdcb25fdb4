/*
 * Copyright (c) 2023 shenjunzheng@gmail.com
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package errors defines the sentinel error taxonomy shared across the
// control plane and fast plane. Each sentinel maps to exactly one policy
// in the error handling design: fatal, warn-and-fall-back, or fail-open.
package errors

import (
	"errors"
)

var (
	// Startup / config

	ErrConfig            = errors.New("configuration error")
	ErrMissingConfigName = errors.New("config name not specified")

	// Refresh: download + archive

	ErrDownload     = errors.New("failed to download GeoDB release")
	ErrArchive      = errors.New("failed to unpack GeoDB archive")
	ErrFileNotFound = errors.New("file not found")

	// Decoder / compactor

	ErrMalformedDB = errors.New("malformed GeoDB")

	// Shared image channel

	ErrMapWrite = errors.New("failed to write shared image")

	// Fast path

	ErrPacketParse      = errors.New("failed to parse packet")
	ErrMissingParameter = errors.New("missing parameter table entry")
	ErrOutOfBoundsRead  = errors.New("out of bounds image read")

	// Control plane

	ErrShutdown = errors.New("control plane shutting down")
)
