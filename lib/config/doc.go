// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads the eventmesh client configuration.
//
// Configuration comes from one YAML file named by the --config flag or
// the EVENTMESH_CONFIG environment variable; there is no discovery.
// After the file is read, values are layered in a fixed order:
//
//  1. the service key (service_key:), a JSON-with-comments document as
//     issued by the messaging service, fills auth and broker fields the
//     file left empty;
//  2. the section matching environment: (development, staging,
//     production) overrides base values;
//  3. EVENTMESH_* environment variables, optionally loaded from .env
//     files, override everything above;
//  4. ${VAR} and ${VAR:-default} are expanded in URLs and secrets.
//
// The properties: map plays the role of JVM system properties for the
// token client, e.g. http.proxyHost and http.proxyPort. [Properties]
// satisfies the lookup interface the messaging package consumes.
//
// This package depends on no other eventmesh packages; converting the
// binding table into messaging types is the binary's job.
package config
