package banner

import (
	"fmt"

	"chatsync/pkg/config"
)

const banner = `
 ██████╗██╗  ██╗ █████╗ ████████╗███████╗██╗   ██╗███╗   ██╗ ██████╗
██╔════╝██║  ██║██╔══██╗╚══██╔══╝██╔════╝╚██╗ ██╔╝████╗  ██║██╔════╝
██║     ███████║███████║   ██║   ███████╗ ╚████╔╝ ██╔██╗ ██║██║
██║     ██╔══██║██╔══██║   ██║   ╚════██║  ╚██╔╝  ██║╚██╗██║██║
╚██████╗██║  ██║██║  ██║   ██║   ███████║   ██║   ██║ ╚████║╚██████╗
 ╚═════╝╚═╝  ╚═╝╚═╝  ╚═╝   ╚═╝   ╚══════╝   ╚═╝   ╚═╝  ╚═══╝ ╚═════╝
`

// PrintWithEff prints the startup banner using an EffectiveConfigResult
// which provides richer context (config, addr, dbpath, source).
func PrintWithEff(eff config.EffectiveConfigResult, version string) {
	addr := eff.Addr
	if addr == "" && eff.Config != nil {
		addr = eff.Config.Addr()
	}
	dbPath := eff.DBPath
	if dbPath == "" && eff.Config != nil {
		dbPath = eff.Config.Server.DBPath
	}
	src := eff.Source
	if src == "" {
		src = "flags"
	}

	fmt.Print(banner)
	fmt.Println("== Config =====================================================")
	fmt.Printf("Listen:   %s\n", addr)
	fmt.Printf("DB Path:  %s\n", dbPath)
	if version != "" {
		fmt.Printf("Version:  %s\n", version)
	}
	fmt.Printf("Config: %s\n", src)

	fmt.Println("\n== Examples ===================================================")
	fmt.Println("curl -X POST 'http://<host>:<port>/v1/messages' -d '{\"conversation\":\"c1\",\"content\":\"hello\"}'")
	fmt.Println("curl 'http://<host>:<port>/v1/conversations/c1/messages?limit=50'")
	fmt.Println("websocat 'ws://<host>:<port>/v1/conversations/c1/ws?user=u1'")

	fmt.Println("\n== Production? =================================================")
	be := 0
	fe := 0
	if eff.Config != nil {
		be = len(eff.Config.Security.APIKeys.Backend)
		fe = len(eff.Config.Security.APIKeys.Frontend)
	}
	if be > 0 {
		fmt.Printf("- Backend API keys: OK (%d)\n", be)
	} else {
		fmt.Println("- Backend API keys: MISSING (required for backend services)")
	}
	if fe > 0 {
		fmt.Printf("- Frontend API keys: OK (%d)\n", fe)
	} else {
		fmt.Println("- Frontend API keys: MISSING (required for client access)")
	}

	tlsOK := eff.Config != nil && eff.Config.Server.TLS.CertFile != "" && eff.Config.Server.TLS.KeyFile != ""
	if tlsOK {
		fmt.Println("- TLS: configured")
	} else {
		fmt.Println("- TLS: unconfigured")
	}

	if eff.Config != nil && eff.Config.Security.SigningKey != "" {
		fmt.Println("- Blob URL signing: configured")
	} else {
		fmt.Println("- Blob URL signing: MISSING (attachment fetches will fail)")
	}

	retEnabled := false
	retInfo := ""
	if eff.Config != nil {
		retEnabled = eff.Config.Retention.Enabled
		if retEnabled {
			if eff.Config.Retention.Cron != "" {
				retInfo = "cron=" + eff.Config.Retention.Cron
			} else if eff.Config.Retention.Period != "" {
				retInfo = "period=" + eff.Config.Retention.Period
			}
		}
	}
	if retEnabled {
		if retInfo != "" {
			fmt.Printf("- Retention: enabled (%s)\n", retInfo)
		} else {
			fmt.Println("- Retention: enabled")
		}
	} else {
		fmt.Println("- Retention: disabled")
	}

	fmt.Println("\n== Logs: =================================================")
}
