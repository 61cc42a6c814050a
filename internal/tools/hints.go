package tools

import "runtime"

func installHints(kind Kind) []string {
	switch runtime.GOOS {
	case "darwin":
		switch kind {
		case KindCompiler:
			return []string{"Install the command line tools: xcode-select --install"}
		case KindCMake, KindNinja, KindGit:
			return []string{"Install via Homebrew: brew install " + string(kind), "or run: cppdev tools install " + string(kind)}
		}
	case "linux":
		switch kind {
		case KindCompiler:
			return []string{"Install a compiler with your distro package manager, e.g. sudo apt install build-essential"}
		case KindCMake, KindNinja:
			return []string{"Run: cppdev tools install " + string(kind)}
		case KindGit, KindDownloader:
			return []string{"Install with your distro package manager, e.g. sudo apt install " + aptName(kind)}
		}
	case "windows":
		switch kind {
		case KindCompiler:
			return []string{"Run: cppdev tools install compiler (Visual Studio Build Tools)"}
		case KindVcpkg:
			return []string{"Set VCPKG_ROOT to an existing vcpkg checkout"}
		default:
			return []string{"Run: cppdev tools install " + string(kind)}
		}
	}
	if kind == KindVcpkg {
		return []string{"Set VCPKG_ROOT to an existing vcpkg checkout"}
	}
	return nil
}

func aptName(kind Kind) string {
	if kind == KindDownloader {
		return "curl"
	}
	return string(kind)
}
