package services

import (
	"slices"
	"strings"
)

var allowedPackages = map[string][]string{
	"python": {
		"numpy", "pandas", "matplotlib", "scikit-learn", "tensorflow",
		"torch", "opencv-python", "xgboost", "nltk", "transformers",
		"flask", "django", "fastapi", "sqlalchemy", "pymongo",
		"requests", "beautifulsoup4", "pillow", "cryptography",
	},
	"javascript": {
		"axios", "express", "mongoose", "react", "redux",
		"lodash", "moment", "bcryptjs", "jsonwebtoken", "jest",
		"vite", "webpack", "chart.js",
	},
	"java": {
		"spring-boot-starter-web",
		"spring-boot-starter-data-jpa",
		"mysql-connector-java",
	},
	"c":     {"glibc", "openssl", "libcurl", "pthread"},
	"cpp":   {"boost", "eigen", "opencv", "fmt", "spdlog"},
	"react": {"react", "react-dom", "react-router-dom", "axios", "redux", "react-query"},
	"nosql": {"pymongo", "mongoose", "redis", "motor"},
}

// AllowedPackages returns the packages offered for a language, or nil when it has no catalogue.
func AllowedPackages(language string) []string {
	language = strings.ToLower(language)
	switch language {
	case "js", "node", "nodejs":
		language = "javascript"
	}
	return slices.Clone(allowedPackages[language])
}

// IsAllowedPackage reports whether pkg is in the catalogue for language.
func IsAllowedPackage(language, pkg string) bool {
	return slices.Contains(AllowedPackages(language), pkg)
}
