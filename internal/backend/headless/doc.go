// Package headless drives Chrome through chromedp to capture full-page
// screenshots. A Backend launches one browser per worker; each Session renders
// pages one at a time, every page in its own incognito-style browser context.
package headless
